// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/n-pipe/internal/config"
)

// archiveSuffix é o sufixo das keys no bucket.
const archiveSuffix = ".gz"

// S3Uploader envia archives para um bucket S3 (ou compatível, via endpoint).
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader cria um S3Uploader a partir da configuração. Credenciais
// explícitas no YAML têm precedência; vazias caem na credential chain
// default do SDK (env, profile, IMDS).
func NewS3Uploader(ctx context.Context, cfg config.S3Info) (*S3Uploader, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Endpoints custom (MinIO etc) geralmente não resolvem
			// virtual-host style
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Existing lista as keys sob o prefixo e retorna os basenames de segmento
// já arquivados.
func (u *S3Uploader) Existing(ctx context.Context) (map[string]bool, error) {
	existing := make(map[string]bool)

	paginator := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(u.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, u.prefix)
			name = strings.TrimSuffix(name, archiveSuffix)
			if name != "" {
				existing[name] = true
			}
		}
	}

	return existing, nil
}

// Upload sobe um archive como {prefix}{segment}.gz.
func (u *S3Uploader) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.prefix + name + archiveSuffix),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("putting s3 object: %w", err)
	}
	return nil
}

// Пакет s3store — бэкенд blob-хранилища в S3-совместимом объектном хранилище.
// Чтение диапазона выполняется через GetObject с заголовком Range,
// поэтому содержимое не буферизуется в памяти целиком.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Options — параметры подключения.
type Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// SpoolDir — директория для временных файлов при записи несикабельных потоков
	SpoolDir string
}

// Store — blob-хранилище в бакете S3.
type Store struct {
	client   *s3.Client
	bucket   string
	spoolDir string
}

// New создаёт клиент S3 со статическими учётными данными.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("не задан бакет S3")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &Store{client: client, bucket: opts.Bucket, spoolDir: opts.SpoolDir}, nil
}

// Put загружает содержимое под ключом key.
// SHA-256 считается до загрузки: несикабельный поток сначала
// сохраняется во временный файл.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader) (*model.SaveResult, error) {
	rs, cleanup, err := s.seekable(reader)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	hasher := sha256.New()
	size, err := io.Copy(hasher, rs)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ошибка позиционирования: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          rs,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки %s в S3: %w", key, err)
	}

	return &model.SaveResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get читает содержимое key начиная с offset. length < 0 — до конца.
func (s *Store) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rng := rangeHeader(offset, length); rng != "" {
		in.Range = aws.String(rng)
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, model.NewError(model.ErrNotFound, "содержимое %s не найдено", key)
		}
		return nil, fmt.Errorf("ошибка чтения %s из S3: %w", key, err)
	}
	return out.Body, nil
}

// Delete удаляет объект. S3 не различает отсутствующий ключ.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления %s из S3: %w", key, err)
	}
	return nil
}

// CheckReady проверяет доступность бакета через HeadBucket.
func (s *Store) CheckReady(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("бакет %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// rangeHeader строит значение Range (RFC 9110) для закрытого интервала.
func rangeHeader(offset, length int64) string {
	switch {
	case offset == 0 && length < 0:
		return ""
	case length < 0:
		return fmt.Sprintf("bytes=%d-", offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
}

// seekable возвращает reader с поддержкой Seek, при необходимости через временный файл.
func (s *Store) seekable(reader io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := reader.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}

	f, err := os.CreateTemp(s.spoolDir, "s3-spool-*")
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if _, err := io.Copy(f, reader); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ошибка буферизации содержимого: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ошибка позиционирования: %w", err)
	}
	return f, cleanup, nil
}

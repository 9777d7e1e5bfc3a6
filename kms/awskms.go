package kms

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awskms "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ruteri/tee-key-rotation/interfaces"
)

// DataKeyAPI is the subset of the AWS KMS client used for seeds.
type DataKeyAPI interface {
	GenerateDataKeyWithContext(ctx aws.Context, input *awskms.GenerateDataKeyInput, opts ...request.Option) (*awskms.GenerateDataKeyOutput, error)
}

// AWSKMSSeedSource draws seeds from AWS KMS GenerateDataKey under a customer key.
type AWSKMSSeedSource struct {
	client      DataKeyAPI
	keyID       string
	log         *slog.Logger
	locationURI string
}

// Compile-time interface check.
var _ interfaces.SeedSource = (*AWSKMSSeedSource)(nil)

// NewAWSKMSSeedSource creates an AWS KMS seed source.
// If accessKey and secretKey are empty, the default credential chain is used.
func NewAWSKMSSeedSource(keyID, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*AWSKMSSeedSource, error) {
	uri := fmt.Sprintf("awskms://%s/%s", region, keyID)
	if endpoint != "" {
		uri += fmt.Sprintf("?endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewAWSKMSSeedSourceWithClient(awskms.New(sess), keyID, uri, log), nil
}

// NewAWSKMSSeedSourceWithClient creates a seed source over an existing client.
func NewAWSKMSSeedSourceWithClient(client DataKeyAPI, keyID, locationURI string, log *slog.Logger) *AWSKMSSeedSource {
	return &AWSKMSSeedSource{
		client:      client,
		keyID:       keyID,
		log:         log,
		locationURI: locationURI,
	}
}

// NextSeed requests a 256-bit data key whose encryption context names the pair and generation.
func (s *AWSKMSSeedSource) NextSeed(ctx context.Context, pair interfaces.KeyPair, generation uint64) ([]byte, error) {
	start := time.Now()
	out, err := s.client.GenerateDataKeyWithContext(ctx, &awskms.GenerateDataKeyInput{
		KeyId:   aws.String(s.keyID),
		KeySpec: aws.String(awskms.DataKeySpecAes256),
		EncryptionContext: map[string]*string{
			"pair":       aws.String(pair.ID.String()),
			"generation": aws.String(strconv.FormatUint(generation, 10)),
		},
	})
	if err != nil {
		s.log.Error("Failed to generate data key in AWS KMS",
			slog.String("keyId", s.keyID),
			slog.String("pair", pair.ID.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeySourceUnavailable, err)
	}
	if len(out.Plaintext) < 32 {
		return nil, fmt.Errorf("%w: data key too short (%d bytes)", interfaces.ErrKeySourceUnavailable, len(out.Plaintext))
	}

	s.log.Debug("Obtained seed from AWS KMS",
		slog.String("pair", pair.ID.String()),
		slog.Duration("duration", time.Since(start)))
	return out.Plaintext, nil
}

// LocationURI returns the KMS location of the customer key.
func (s *AWSKMSSeedSource) LocationURI() string {
	return s.locationURI
}

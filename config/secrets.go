package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func newSecretsManagerClient(ctx context.Context) (*secretsmanager.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// applySecrets overwrites the API key and opensearch credentials with the values stored in Secrets Manager.
// An empty secret id skips that value.
func applySecrets(ctx context.Context, cfg *Config, client secretGetter) error {
	targets := []struct {
		id  string
		dst *string
	}{
		{cfg.Secrets.OpenAIKeyID, &cfg.OpenAI.APIKey},
		{cfg.Secrets.OpenSearchUsernameID, &cfg.OpenSearch.Username},
		{cfg.Secrets.OpenSearchPasswordID, &cfg.OpenSearch.Password},
	}
	for _, target := range targets {
		if target.id == "" {
			continue
		}
		secret, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(target.id),
		})
		if err != nil {
			return fmt.Errorf("failed to read secret %s: %w", target.id, err)
		}
		*target.dst = aws.ToString(secret.SecretString)
	}
	return nil
}

package mainconfig

import (
	"context"
	"testing"

	appconfig "github.com/atlasvisa/booking-platform/internal/config"
)

func TestLoadAWSConfigLocalStack(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if awsCfg.Region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", awsCfg.Region)
	}
	if awsCfg.BaseEndpoint == nil || *awsCfg.BaseEndpoint != "http://localhost:4566" {
		t.Errorf("base endpoint = %v, want LocalStack override", awsCfg.BaseEndpoint)
	}

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "test" {
		t.Errorf("access key = %q, want static test credentials", creds.AccessKeyID)
	}
}

func TestLoadAWSConfigNoOverride(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "us-east-1"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if awsCfg.BaseEndpoint != nil {
		t.Errorf("expected no base endpoint, got %q", *awsCfg.BaseEndpoint)
	}
}

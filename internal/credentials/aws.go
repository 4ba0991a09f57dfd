package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const defaultRegion = "us-east-1"

// AWSOptions 控制 AWS 凭证链的构造方式。
type AWSOptions struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// RoleARN 非空时通过 STS AssumeRole 获取临时凭证。
	RoleARN         string
	RoleSessionName string
}

// AWSProvider 基于 AWS 默认凭证链（环境变量、共享配置、实例角色等）。
type AWSProvider struct {
	provider aws.CredentialsProvider
	region   string
	now      func() time.Time
}

// NewAWSProvider 加载 AWS 配置并构造带缓存的凭证提供者。
func NewAWSProvider(ctx context.Context, opts AWSOptions) (*AWSProvider, error) {
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		static := awscreds.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(static))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	provider := cfg.Credentials
	if opts.RoleARN != "" {
		sessionName := opts.RoleSessionName
		if sessionName == "" {
			sessionName = "z-tutor-voice"
		}
		stsClient := sts.NewFromConfig(cfg)
		provider = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = sessionName
		}))
	}

	return NewAWSProviderFrom(provider, region), nil
}

// NewAWSProviderFrom 包装已有的 SDK 凭证提供者。
func NewAWSProviderFrom(provider aws.CredentialsProvider, region string) *AWSProvider {
	return &AWSProvider{provider: provider, region: region, now: time.Now}
}

// Region 返回解析后的区域。
func (p *AWSProvider) Region() string {
	return p.region
}

// Credentials 实现 Provider。
func (p *AWSProvider) Credentials(ctx context.Context) (Credentials, error) {
	if p.provider == nil {
		return Credentials{}, fmt.Errorf("%w: no AWS credential provider configured", ErrAuthRequired)
	}

	creds, err := p.provider.Retrieve(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if !creds.HasKeys() {
		return Credentials{}, fmt.Errorf("%w: AWS credentials have no keys", ErrAuthRequired)
	}

	out := Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		CanExpire:       creds.CanExpire,
		Expires:         creds.Expires,
	}
	if out.Expired(p.now()) {
		return Credentials{}, fmt.Errorf("%w: AWS credentials from %s expired", ErrAuthRequired, creds.Source)
	}
	return out, nil
}

// Package credentials 为实时语音流提供访问凭证。
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ErrAuthRequired 表示凭证缺失或已过期，调用方需要重新认证，不应自动重试。
var ErrAuthRequired = errors.New("credentials: re-authentication required")

// Credentials 是一次流会话使用的访问凭证快照。
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	CanExpire       bool
	Expires         time.Time
}

// Expired 判断凭证在 now 时刻是否已失效。
func (c Credentials) Expired(now time.Time) bool {
	return c.CanExpire && !c.Expires.After(now)
}

// AWS 转换为 SDK 使用的凭证结构。
func (c Credentials) AWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		CanExpire:       c.CanExpire,
		Expires:         c.Expires,
		Source:          "z-tutor",
	}
}

// Provider 返回当前可用的凭证。凭证无法获取或过期时返回包装了 ErrAuthRequired 的错误。
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static 是固定凭证，适用于本地开发与测试。
type Static Credentials

// Credentials 实现 Provider。
func (s Static) Credentials(_ context.Context) (Credentials, error) {
	creds := Credentials(s)
	if strings.TrimSpace(creds.AccessKeyID) == "" || strings.TrimSpace(creds.SecretAccessKey) == "" {
		return Credentials{}, fmt.Errorf("%w: static credentials missing access key or secret", ErrAuthRequired)
	}
	if creds.Expired(time.Now()) {
		return Credentials{}, fmt.Errorf("%w: static credentials expired at %s", ErrAuthRequired, creds.Expires.Format(time.RFC3339))
	}
	return creds, nil
}

// SDKProvider 把 Provider 适配为 aws.CredentialsProvider，供 SDK 客户端签名使用。
func SDKProvider(p Provider) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		creds, err := p.Credentials(ctx)
		if err != nil {
			return aws.Credentials{}, err
		}
		return creds.AWS(), nil
	})
}

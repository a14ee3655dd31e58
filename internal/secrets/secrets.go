// Package secrets resolves secret references in provider options.
//
// An option value may be a literal or one of:
//
//	env(NAME)          the value of environment variable NAME
//	awssm(ID)          the SecretString of AWS Secrets Manager secret ID
//	awssm(ID#key)      field key of the JSON object stored in secret ID
//
// Resolution happens once, when providers are built. Resolved values are
// never logged or written to the run ledger.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Error codes (E501-E509)
const (
	ErrEnvUnset        = "E501" // env() names an unset variable
	ErrSecretNotFound  = "E502" // awssm() secret or key does not exist
	ErrSecretBackend   = "E503" // Secrets Manager could not be reached
	ErrSecretMalformed = "E504" // secret is binary or not a JSON object when a key is given
)

var refPattern = regexp.MustCompile(`^(env|awssm)\(([^()#]+)(?:#([^()]+))?\)$`)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver resolves secret references. It is safe for concurrent use.
type Resolver struct {
	lookupEnv func(string) (string, bool)
	region    string

	mu     sync.Mutex
	client SecretsManagerAPI
	cache  map[string]string // secret id -> SecretString
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = lookup
	}
}

// WithSecretsManager sets the Secrets Manager client. Without it a client is
// created from the default AWS configuration on first use.
func WithSecretsManager(client SecretsManagerAPI) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithRegion overrides the AWS region of the default client.
func WithRegion(region string) Option {
	return func(r *Resolver) {
		r.region = region
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsReference reports whether s is a secret reference rather than a literal.
func IsReference(s string) bool {
	return refPattern.MatchString(s)
}

// Resolve returns the value of s. Literals are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	switch m[1] {
	case "env":
		if m[3] != "" {
			return "", syncerr.Configuration(ErrEnvUnset, "env(%s#%s): env references take no key", m[2], m[3])
		}
		v, ok := r.lookupEnv(m[2])
		if !ok {
			return "", syncerr.Configuration(ErrEnvUnset, "environment variable %s is not set", m[2])
		}
		return v, nil
	default:
		return r.resolveAWS(ctx, m[2], m[3])
	}
}

// ResolveOptions resolves every value of a provider option map. All failures
// are collected; the returned map is nil when any reference fails.
func (r *Resolver) ResolveOptions(ctx context.Context, provider string, opts map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(opts))
	var errs syncerr.List
	for _, k := range ir.SortedKeys(opts) {
		v, err := r.Resolve(ctx, opts[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %q option %q: %w", provider, k, err))
			continue
		}
		out[k] = v
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolveAWS(ctx context.Context, id, key string) (string, error) {
	raw, err := r.secretString(ctx, id)
	if err != nil {
		return "", err
	}
	if key == "" {
		return raw, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", syncerr.Configuration(ErrSecretMalformed, "secret %s is not a JSON object", id)
	}
	v, ok := obj[key]
	if !ok {
		return "", syncerr.Configuration(ErrSecretNotFound, "secret %s has no key %q", id, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return ir.String(ir.Normalize(v)), nil
}

func (r *Resolver) secretString(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache[id]; ok {
		return v, nil
	}
	if r.client == nil {
		client, err := r.defaultClient(ctx)
		if err != nil {
			return "", err
		}
		r.client = client
	}

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return "", syncerr.Configuration(ErrSecretNotFound, "secret %s not found", id)
		}
		return "", &syncerr.Error{
			Kind:    syncerr.KindConfiguration,
			Code:    ErrSecretBackend,
			Message: fmt.Sprintf("read secret %s", id),
			Err:     err,
		}
	}
	if out.SecretString == nil {
		return "", syncerr.Configuration(ErrSecretMalformed, "secret %s holds binary data", id)
	}
	r.cache[id] = *out.SecretString
	return *out.SecretString, nil
}

func (r *Resolver) defaultClient(ctx context.Context) (SecretsManagerAPI, error) {
	var loadOpts []func(*config.LoadOptions) error
	if r.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(r.region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &syncerr.Error{
			Kind:    syncerr.KindConfiguration,
			Code:    ErrSecretBackend,
			Message: "load AWS config",
			Err:     err,
		}
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

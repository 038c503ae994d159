package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Scheme is the prefix that marks a config value as an SSM parameter name.
const Scheme = "ssm"

// ssmAPI is the minimal AWS SSM interface required by Resolver.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver implements runtime.SecretResolver over AWS SSM Parameter Store.
// The AWS client is only built the first time a parameter is needed, so
// configs without ssm: values never touch AWS.
type Resolver struct {
	region string

	once sync.Once
	api  ssmAPI
	err  error
}

func New(region string) *Resolver {
	return &Resolver{region: region}
}

// NewWithAPI creates a Resolver with the given SSM API implementation.
func NewWithAPI(api ssmAPI) (*Resolver, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	r := &Resolver{api: api}
	r.once.Do(func() {})
	return r, nil
}

func (r *Resolver) Scheme() string {
	return Scheme
}

func (r *Resolver) client(ctx context.Context) (ssmAPI, error) {
	r.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if r.region != "" {
			opts = append(opts, awsconfig.WithRegion(r.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			r.err = fmt.Errorf("paramstore: load aws config: %w", err)
			return
		}
		r.api = ssm.NewFromConfig(cfg)
	})
	return r.api, r.err
}

// Resolve fetches a decrypted parameter value.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	api, err := r.client(ctx)
	if err != nil {
		return "", err
	}

	withDecryption := true
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

package federated

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeySource supplies the function that resolves a token's signing key.
// keyfunc.Keyfunc and *RemoteKeys satisfy it.
type KeySource interface {
	KeyfuncCtx(ctx context.Context) jwt.Keyfunc
}

const (
	defaultRefreshInterval    = time.Hour
	defaultUnknownKIDInterval = 10 * time.Second
	minRSABits                = 2048
)

var errWeakKey = errors.New("rsa key shorter than 2048 bits")

// RemoteKeysOptions tunes NewRemoteKeys. Zero values pick the defaults.
type RemoteKeysOptions struct {
	Client *http.Client
	// RefreshInterval is how often the set is refetched in the background.
	RefreshInterval time.Duration
	// UnknownKIDInterval is the minimum gap between refetches triggered by
	// a token whose kid is not in the cached set.
	UnknownKIDInterval time.Duration
	Logger             *zap.Logger
}

// RemoteKeys keeps one provider's JWKS cached and refreshed in the
// background. Lookups never wait on the network unless the kid is unknown,
// and those refetches are rate limited whether or not they succeed. A
// failed refresh keeps the last good set.
type RemoteKeys struct {
	keyfunc.Keyfunc
	cancel context.CancelFunc
}

// NewRemoteKeys starts fetching jwksURL. An unreachable endpoint does not
// fail construction; lookups fail until a fetch succeeds.
func NewRemoteKeys(jwksURL string, opts RemoteKeysOptions) (*RemoteKeys, error) {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.UnknownKIDInterval <= 0 {
		opts.UnknownKIDInterval = defaultUnknownKIDInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("jwks")

	timeout := opts.Client.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    opts.Client,
		Ctx:                       ctx,
		HTTPExpectedStatus:        http.StatusOK,
		HTTPTimeout:               timeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
		},
		RefreshInterval: opts.RefreshInterval,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federated: jwks storage for %s: %w", jwksURL, err)
	}

	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{jwksURL: storage},
		RateLimitWaitMax:  time.Second,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(opts.UnknownKIDInterval), 1),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federated: jwks client for %s: %w", jwksURL, err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      client,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federated: keyfunc for %s: %w", jwksURL, err)
	}
	return &RemoteKeys{Keyfunc: kf, cancel: cancel}, nil
}

// Close stops the background refresh.
func (r *RemoteKeys) Close() {
	if r != nil && r.cancel != nil {
		r.cancel()
	}
}

// strongKeys wraps a key lookup and refuses RSA moduli below minRSABits.
func strongKeys(kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, errors.New("missing kid")
		}
		key, err := kf(t)
		if err != nil {
			return nil, err
		}
		if pub, ok := key.(*rsa.PublicKey); ok && pub.N.BitLen() < minRSABits {
			return nil, errWeakKey
		}
		return key, nil
	}
}

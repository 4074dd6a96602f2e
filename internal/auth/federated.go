package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	securetokenCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	securetokenIssuer   = "https://securetoken.google.com/"

	defaultCertTTL = time.Hour
)

// FederatedVerifier verifies RS256 identity assertions minted by the
// securetoken service for one project, using the provider's published
// certificates. Certificates are cached and refreshed per Cache-Control.
type FederatedVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client

	mu     sync.Mutex
	keys   map[string]*rsa.PublicKey
	expiry time.Time
}

var _ IdentityProvider = (*FederatedVerifier)(nil)

// NewFederatedVerifier builds a verifier from admin credentials: the
// service-account JSON itself, or a path to it. Only project_id is
// consumed; assertion checks rely on the published certificates.
func NewFederatedVerifier(adminKey string) (*FederatedVerifier, error) {
	raw := strings.TrimSpace(adminKey)
	if raw == "" {
		return nil, fmt.Errorf("empty admin key")
	}
	if !strings.HasPrefix(raw, "{") {
		data, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("read admin key file: %w", err)
		}
		raw = string(data)
	}

	var creds struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("parse admin key: %w", err)
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("admin key missing project_id")
	}

	return &FederatedVerifier{
		projectID: creds.ProjectID,
		certsURL:  securetokenCertsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// WithCertsEndpoint overrides the certificate endpoint. Used by tests.
func (f *FederatedVerifier) WithCertsEndpoint(url string, client *http.Client) *FederatedVerifier {
	f.certsURL = url
	if client != nil {
		f.client = client
	}
	return f
}

// Verify checks an identity assertion and returns the principal it proves.
func (f *FederatedVerifier) Verify(ctx context.Context, tokenString string) (Principal, error) {
	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Role    string `json:"role"`
		jwt.RegisteredClaims
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("assertion missing kid header")
		}
		return f.key(ctx, kid)
	},
		jwt.WithIssuer(securetokenIssuer+f.projectID),
		jwt.WithAudience(f.projectID),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("verify assertion: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("invalid assertion claims")
	}

	return Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: displayNameFor(claims.Name, claims.Email, claims.Subject),
		Role:        roleFor(claims.Role),
		Avatar:      claims.Picture,
		Origin:      OriginVerified,
	}, nil
}

func (f *FederatedVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key, ok := f.keys[kid]; ok && time.Now().Before(f.expiry) {
		return key, nil
	}

	if err := f.refreshLocked(ctx); err != nil {
		return nil, err
	}

	key, ok := f.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no certificate for kid %q", kid)
	}
	return key, nil
}

func (f *FederatedVerifier) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.certsURL, nil)
	if err != nil {
		return fmt.Errorf("build certs request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch certificates: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("decode certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pemCert := range certs {
		key, err := parseCertPublicKey(pemCert)
		if err != nil {
			return fmt.Errorf("parse certificate %s: %w", kid, err)
		}
		keys[kid] = key
	}

	f.keys = keys
	f.expiry = time.Now().Add(certTTL(resp.Header.Get("Cache-Control")))
	return nil
}

func parseCertPublicKey(pemCert string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemCert))
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is not RSA")
	}
	return key, nil
}

func certTTL(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(rest); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultCertTTL
}

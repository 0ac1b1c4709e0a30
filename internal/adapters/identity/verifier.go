// Package identity adapts the external identity provider behind the
// core.IdentityVerifier contract: opaque credential in, structured
// identity out, or failure. No provider state is cached locally.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"camrelay/internal/domain"
)

type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyRequest struct {
	Credential string `json:"credential"`
}

type verifyResponse struct {
	UserID       string   `json:"userId"`
	Role         string   `json:"role"`
	OwnedDevices []string `json:"ownedDevices"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (domain.ViewerIdentity, error) {
	body, err := json.Marshal(verifyRequest{Credential: credential})
	if err != nil {
		return domain.ViewerIdentity{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return domain.ViewerIdentity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.ViewerIdentity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("module", "adapters.identity").Int("status", resp.StatusCode).Msg("provider rejected credential")
		return domain.ViewerIdentity{}, fmt.Errorf("identity provider returned %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ViewerIdentity{}, err
	}
	if out.UserID == "" {
		return domain.ViewerIdentity{}, fmt.Errorf("identity provider returned empty user id")
	}

	owned := make([]domain.DeviceID, 0, len(out.OwnedDevices))
	for _, id := range out.OwnedDevices {
		owned = append(owned, domain.DeviceID(id))
	}
	role := out.Role
	if role == "" {
		role = "user"
	}
	return domain.ViewerIdentity{
		UserID:         domain.UserID(out.UserID),
		Role:           role,
		OwnedDeviceIDs: owned,
	}, nil
}

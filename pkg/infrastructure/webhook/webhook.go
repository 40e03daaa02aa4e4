// Package webhook implements the gateway's single HTTP entry point: GitHub
// webhook intake. It verifies the payload signature over the raw body,
// dispatches on event type, and enqueues differential jobs for qualifying
// pull_request events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/domain/job"
)

const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
)

// Enqueuer accepts a job for asynchronous execution. The queue package
// provides the concrete worker-pool-backed implementation.
type Enqueuer interface {
	Enqueue(j job.Job) error
}

// Handler is the net/http.Handler for POST /webhook/github.
type Handler struct {
	Secret string
	Queue  Enqueuer
	Logger zerolog.Logger
}

func NewHandler(secret string, queue Enqueuer, logger zerolog.Logger) *Handler {
	return &Handler{Secret: secret, Queue: queue, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webhook: failed to read request body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(headerSignature)
	if !verifySignature(body, signature, h.Secret) {
		h.Logger.Warn().Msg("webhook: signature missing or mismatched")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event := r.Header.Get(headerEvent)
	switch event {
	case "ping":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
		return
	case "pull_request":
		h.handlePullRequest(w, body)
		return
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}
}

// verifySignature computes the hex-encoded HMAC-SHA256 of body keyed by
// secret and compares it, constant-time, against the signature header's
// "sha256=<hex>" value.
func verifySignature(body []byte, signatureHeader, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	expected := strings.TrimPrefix(signatureHeader, prefix)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	actual := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(actual))
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

var qualifyingActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, body []byte) {
	var event pullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook: failed to parse pull_request payload")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !qualifyingActions[event.Action] {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	j := job.Job{
		ID:             uuid.NewString(),
		RepoURL:        event.Repository.CloneURL,
		InstallationID: event.Installation.ID,
		PR: &job.PRContext{
			Owner:          event.Repository.Owner.Login,
			Repo:           event.Repository.Name,
			PRNumber:       event.PullRequest.Number,
			BaseRef:        event.PullRequest.Base.Ref,
			HeadSHA:        event.PullRequest.Head.SHA,
			InstallationID: event.Installation.ID,
		},
	}

	if err := h.Queue.Enqueue(j); err != nil {
		h.Logger.Error().Err(err).Msg("webhook: failed to enqueue job")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

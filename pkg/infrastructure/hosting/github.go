// Package hosting implements reporting.HostingClient and
// orchestrator.Authenticator against the GitHub REST API: GitHub App JWT
// minting, per-installation token exchange, PR comments, and check runs.
package hosting

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v75/github"

	"github.com/audit-pit-crew/gateway/pkg/infrastructure/reporting"
)

// Client is a GitHub App-authenticated HostingClient. One Client serves
// every installation the app is connected to: each call mints a fresh app
// JWT and exchanges it for the target installation's token, rather than
// caching a per-installation client.
type Client struct {
	appID      int64
	privateKey *rsa.PrivateKey
	http       *http.Client
}

// NewClient parses a GitHub App's PEM-encoded private key and returns a
// Client for appID. httpClient may be nil to use http.DefaultClient.
func NewClient(appID int64, privateKeyPEM []byte, httpClient *http.Client) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("hosting: failed to parse GitHub App private key: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{appID: appID, privateKey: key, http: httpClient}, nil
}

// appJWT mints a short-lived JWT authenticating as the GitHub App itself,
// the credential GitHub's installation-token-exchange endpoint requires.
func (c *Client) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", c.appID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

// appClient returns a go-github client authenticated as the app itself,
// used only to exchange for an installation token.
func (c *Client) appClient() (*github.Client, error) {
	jwtToken, err := c.appJWT()
	if err != nil {
		return nil, err
	}
	return github.NewClient(c.http).WithAuthToken(jwtToken), nil
}

// installationClient returns a go-github client authenticated as
// installationID, for every call after token issuance.
func (c *Client) installationClient(ctx context.Context, installationID int64) (*github.Client, error) {
	token, err := c.IssueInstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return github.NewClient(c.http).WithAuthToken(token), nil
}

// IssueInstallationToken exchanges the app's JWT for a short-lived token
// scoped to one installation.
func (c *Client) IssueInstallationToken(ctx context.Context, installationID int64) (string, error) {
	app, err := c.appClient()
	if err != nil {
		return "", err
	}
	token, _, err := app.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("hosting: failed to issue installation token: %w", err)
	}
	return token.GetToken(), nil
}

// PostIssueComment posts body as an issue comment on the pull request
// (GitHub models PR discussion threads as issue comments).
func (c *Client) PostIssueComment(ctx context.Context, owner, repo string, prNumber int, body string) error {
	installationID, ok := installationFromContext(ctx)
	if !ok {
		return fmt.Errorf("hosting: no installation id in context")
	}
	gh, err := c.installationClient(ctx, installationID)
	if err != nil {
		return err
	}
	_, _, err = gh.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("hosting: failed to post issue comment: %w", err)
	}
	return nil
}

// CreateCheckRun creates a new check run for run.HeadSHA.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo string, run reporting.CheckRun) error {
	installationID, ok := installationFromContext(ctx)
	if !ok {
		return fmt.Errorf("hosting: no installation id in context")
	}
	gh, err := c.installationClient(ctx, installationID)
	if err != nil {
		return err
	}
	_, _, err = gh.Checks.CreateCheckRun(ctx, owner, repo, toCreateOpts(run))
	if err != nil {
		return fmt.Errorf("hosting: failed to create check run: %w", err)
	}
	return nil
}

// UpdateCheckRun updates an existing check run by ID.
func (c *Client) UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, run reporting.CheckRun) error {
	installationID, ok := installationFromContext(ctx)
	if !ok {
		return fmt.Errorf("hosting: no installation id in context")
	}
	gh, err := c.installationClient(ctx, installationID)
	if err != nil {
		return err
	}
	_, _, err = gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, toUpdateOpts(run))
	if err != nil {
		return fmt.Errorf("hosting: failed to update check run: %w", err)
	}
	return nil
}

func toCreateOpts(run reporting.CheckRun) github.CreateCheckRunOptions {
	opts := github.CreateCheckRunOptions{
		Name:    run.Name,
		HeadSHA: run.HeadSHA,
		Status:  &run.Status,
		Output: &github.CheckRunOutput{
			Title:       &run.Title,
			Summary:     &run.Summary,
			Annotations: toAnnotations(run.Annotations),
		},
	}
	if run.Conclusion != "" {
		conclusion := string(run.Conclusion)
		opts.Conclusion = &conclusion
	}
	return opts
}

func toUpdateOpts(run reporting.CheckRun) github.UpdateCheckRunOptions {
	opts := github.UpdateCheckRunOptions{
		Name:   run.Name,
		Status: &run.Status,
		Output: &github.CheckRunOutput{
			Title:       &run.Title,
			Summary:     &run.Summary,
			Annotations: toAnnotations(run.Annotations),
		},
	}
	if run.Conclusion != "" {
		conclusion := string(run.Conclusion)
		opts.Conclusion = &conclusion
	}
	return opts
}

func toAnnotations(in []reporting.CheckRunAnnotation) []*github.CheckRunAnnotation {
	out := make([]*github.CheckRunAnnotation, 0, len(in))
	for _, a := range in {
		a := a
		out = append(out, &github.CheckRunAnnotation{
			Path:            &a.Path,
			StartLine:       &a.StartLine,
			EndLine:         &a.EndLine,
			AnnotationLevel: &a.AnnotationLevel,
			Title:           &a.Title,
			Message:         &a.Message,
		})
	}
	return out
}

func installationFromContext(ctx context.Context) (int64, bool) {
	return reporting.InstallationIDFromContext(ctx)
}

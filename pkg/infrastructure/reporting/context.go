package reporting

import "context"

type installationIDKey struct{}

// WithInstallationID attaches the hosting-platform installation ID a
// HostingClient call should act as. The orchestrator sets this once per
// job, from job.PRContext/job.Job, before invoking the Reporter — avoiding
// threading an installation ID through every HostingClient method.
func WithInstallationID(ctx context.Context, installationID int64) context.Context {
	return context.WithValue(ctx, installationIDKey{}, installationID)
}

// InstallationIDFromContext retrieves the installation ID WithInstallationID
// attached, for a HostingClient implementation to use.
func InstallationIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(installationIDKey{}).(int64)
	return id, ok
}

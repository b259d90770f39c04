package port

import "context"

// FeatureTaskInitiation gates the whole task handling pipeline.
const FeatureTaskInitiation = "wa-task-initiation-feature"

// FeatureFlagProvider looks up named boolean flags. Lookup failures are
// reported as disabled.
type FeatureFlagProvider interface {
	IsEnabled(ctx context.Context, flag string) bool
}

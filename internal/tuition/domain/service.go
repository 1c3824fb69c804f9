package domain

import "context"

// Service manages tuition configurations. Configurations are write-once:
// creation is conditional on absence and there is no update path.
type Service interface {
	CreateConfiguration(ctx context.Context, cfg TuitionConfiguration) (*TuitionConfiguration, error)
	GetConfiguration(ctx context.Context, schoolID, academicYear string) (*TuitionConfiguration, error)
}

package service

// Entity table names used by the hosted backend.
const (
	TableGames              = "games"
	TableTrainingSessions   = "training_sessions"
	TableTrainingTemplates  = "training_templates"
	TableTrainingAttendance = "training_attendance"
	TableTeams              = "teams"
)

// Registry bundles one service per entity table so callers can wire the
// whole data layer in one place.
type Registry struct {
	Games              *Service
	TrainingSessions   *Service
	TrainingTemplates  *Service
	TrainingAttendance *Service
	Teams              *Service
}

// NewRegistry builds services for every entity table over the shared deps.
// Training sessions are cancelled rather than deleted, so their tombstone
// lives in cancelled_at instead of deleted_at.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		Games:              New(TableGames, deps),
		TrainingSessions:   New(TableTrainingSessions, deps, WithDeletedField("cancelled_at")),
		TrainingTemplates:  New(TableTrainingTemplates, deps),
		TrainingAttendance: New(TableTrainingAttendance, deps),
		Teams:              New(TableTeams, deps),
	}
}

// All returns the services in a stable order, handy for bulk pulls.
func (r *Registry) All() []*Service {
	return []*Service{
		r.Teams,
		r.Games,
		r.TrainingTemplates,
		r.TrainingSessions,
		r.TrainingAttendance,
	}
}

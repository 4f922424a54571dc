package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Repository provides access to the artifacts of a project.
type Repository interface {
	// List returns every artifact of the project with its code bodies.
	List(ctx context.Context, projectID string) ([]Artifact, error)
	// SaveDependencies writes the aggregated dependency set back onto one artifact.
	SaveDependencies(ctx context.Context, projectID string, kind Kind, name string, deps DependencySet, codeHash string) error
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// DependencyUpdate is one dependency set to write back.
type DependencyUpdate struct {
	Kind     Kind
	Name     string
	Deps     DependencySet
	CodeHash string
}

// BatchSaver is implemented by repositories that write many dependency sets
// more cheaply at once than one by one.
type BatchSaver interface {
	// SaveDependenciesBatch writes all updates, or none if one of them does
	// not name an artifact of the project.
	SaveDependenciesBatch(ctx context.Context, projectID string, updates []DependencyUpdate) error
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks an artifact record coming from an importer.
func Validate(a Artifact) error {
	if err := validatorInstance().Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w %q: %s", ErrInvalidArtifact, a.ID(), strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w %q: %v", ErrInvalidArtifact, a.ID(), err)
	}
	return nil
}

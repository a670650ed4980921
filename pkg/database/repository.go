package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the standard CRUD operations over string-keyed records
type Repository[T any] interface {
	List(ctx context.Context) ([]*T, error)
	Get(ctx context.Context, key string) (*T, error)
	Upsert(ctx context.Context, entity *T) (*T, error)
	Delete(ctx context.Context, key string) error
}

// GormRepository implements Repository using Gorm.
// keyColumn names the primary key column the string keys refer to.
type GormRepository[T any] struct {
	db            *gorm.DB
	keyColumn     string
	updateColumns []string
}

// NewGormRepository builds a repository over T. updateColumns are the columns Upsert
// overwrites on an existing row; without them every column except the key and created_at is.
func NewGormRepository[T any](db *gorm.DB, keyColumn string, updateColumns ...string) *GormRepository[T] {
	return &GormRepository[T]{db: db, keyColumn: keyColumn, updateColumns: updateColumns}
}

// DB returns the underlying database connection for specialized queries
func (repository *GormRepository[T]) DB() *gorm.DB {
	return repository.db
}

func (repository *GormRepository[T]) List(ctx context.Context) ([]*T, error) {
	var entities []*T
	result := repository.db.WithContext(ctx).Order(repository.keyColumn).Find(&entities)
	return entities, result.Error
}

func (repository *GormRepository[T]) Get(ctx context.Context, key string) (*T, error) {
	var entity T
	result := repository.db.WithContext(ctx).Where(fmt.Sprintf("%s = ?", repository.keyColumn), key).First(&entity)
	if result.Error != nil {
		return nil, result.Error
	}
	return &entity, nil
}

// Upsert inserts the entity or overwrites the update columns of the existing row with the same key.
func (repository *GormRepository[T]) Upsert(ctx context.Context, entity *T) (*T, error) {
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: repository.keyColumn}}}
	if len(repository.updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(repository.updateColumns)
	} else {
		onConflict.UpdateAll = true
	}
	result := repository.db.WithContext(ctx).Clauses(onConflict).Create(entity)
	if result.Error != nil {
		return nil, result.Error
	}
	return entity, nil
}

func (repository *GormRepository[T]) Delete(ctx context.Context, key string) error {
	var entity T
	result := repository.db.WithContext(ctx).Where(fmt.Sprintf("%s = ?", repository.keyColumn), key).Delete(&entity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

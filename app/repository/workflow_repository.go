package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/internal/pkg/database"
)

// workflowExecutionRepository implements the WorkflowExecutionRepository interface
type workflowExecutionRepository struct {
	col *mongo.Collection
}

// NewWorkflowExecutionRepository creates a new workflow execution repository instance
func NewWorkflowExecutionRepository(db *mongo.Database) WorkflowExecutionRepository {
	return &workflowExecutionRepository{col: db.Collection(database.CollectionWorkflowExecutions)}
}

// Create appends one execution audit record.
func (r *workflowExecutionRepository) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec.Timestamp.IsZero() {
		exec.Timestamp = time.Now()
	}

	res, err := r.col.InsertOne(ctx, exec)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		exec.ID = oid
	}
	return nil
}

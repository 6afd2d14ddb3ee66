package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnonymousUserID marks executions that ran without an authenticated caller.
const AnonymousUserID = "demo-user"

// WorkflowExecution is an append-only audit record of one generative run.
type WorkflowExecution struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	WorkflowID string             `bson:"workflow_id" json:"workflow_id"`
	Type       string             `bson:"type" json:"type"`
	Input      string             `bson:"input" json:"input"`
	Response   string             `bson:"response" json:"response"`
	Timestamp  time.Time          `bson:"timestamp" json:"timestamp"`
}

package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/flowkitio/flowkit/internal/pkg/usercontext"
	"github.com/flowkitio/flowkit/internal/pkg/workflow"
)

// WorkflowController serves generative workflow executions. Anonymous
// callers are allowed; their executions are logged under the demo marker.
type WorkflowController struct {
	svc *workflow.Service
}

func NewWorkflowController(svc *workflow.Service) *WorkflowController {
	return &WorkflowController{svc: svc}
}

type workflowRequest struct {
	Workflow struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"workflow"`
	Input   string `json:"input"`
	Context string `json:"context"`
}

// HandleExecuteWorkflow runs one workflow and returns the generated text.
func (wc *WorkflowController) HandleExecuteWorkflow(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.Input == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Input is required")
	}

	result, err := wc.svc.Execute(c.Context(), workflow.Request{
		WorkflowID: req.Workflow.ID,
		Type:       req.Workflow.Type,
		Input:      req.Input,
		Context:    req.Context,
		AuthUserID: userCtx.AuthUserID,
	})
	if err != nil {
		log.Errorf("workflow %s failed: %v", req.Workflow.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to process workflow")
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"response":    result.Response,
		"workflowId":  result.WorkflowID,
		"executionId": result.ExecutionID,
	})
}

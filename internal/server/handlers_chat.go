package server

import (
	"net/http"
	"strings"

	"github.com/ubyagro/biogrow/internal/model"
)

// HandleChatSend handles POST /v1/projects/{project_id}/chat/{agent_id}.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	agentID := model.AgentID(r.PathValue("agent_id"))
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		return
	}

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := model.ValidateChatMessage(req.Message); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	turn, err := h.chatSvc.Send(r.Context(), project, agentID, req.Message)
	if err != nil {
		h.logger.Error("chat send failed", "project_id", project.ID, "agent", agentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot generate reply")
		return
	}

	writeJSON(w, r, http.StatusOK, model.ChatResponse{
		ProjectID:  project.ID,
		AgentID:    agentID,
		AgentName:  model.AgentDirectory[agentID].Name,
		SequenceNo: turn.SequenceNo,
		Text:       turn.Text,
		Timestamp:  turn.CreatedAt,
	})
}

// HandleChatHistory handles GET /v1/projects/{project_id}/chat/{agent_id}.
func (h *Handlers) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	agentID := model.AgentID(r.PathValue("agent_id"))
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		return
	}

	turns, err := h.chatSvc.History(r.Context(), project.ID, agentID)
	if err != nil {
		h.logger.Error("chat history failed", "project_id", project.ID, "agent", agentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot load conversation")
		return
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}
	writeList(w, r, turns, len(turns), len(turns), 0)
}

package api

import (
	"context"
	"net/http"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/pipeline"
)

// SessionResponse is returned when a session is created
type SessionResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresIn int    `json:"expiresIn"`
}

// MeResponse describes the calling principal
type MeResponse struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	SystemRole string   `json:"systemRole"`
	Projects   []string `json:"projects"`
	SessionID  string   `json:"sessionId,omitempty"`
}

func (s *Server) createSessionOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name:          "sessions.create",
		SuccessStatus: http.StatusCreated,
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			metadata := map[string]string{}
			if req.OriginIP != "" {
				metadata["originIp"] = req.OriginIP
			}
			if ua := req.Metadata["userAgent"]; ua != "" {
				metadata["userAgent"] = ua
			}
			id, err := s.sessions.Create(ctx, sc.Principal.ID, sc.Principal.Email, metadata)
			if err != nil {
				return nil, err
			}
			return SessionResponse{SessionID: id, ExpiresIn: int(s.sessions.Timeout().Seconds())}, nil
		},
	}
}

func (s *Server) destroySessionOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "sessions.destroy",
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			id := req.Param("sessionId")
			sess, err := s.sessions.Validate(ctx, id)
			if err != nil {
				if apperrors.Is(err, apperrors.KindAuthentication) {
					return nil, apperrors.NotFound("session not found")
				}
				return nil, err
			}
			if sess.PrincipalID != sc.Principal.ID {
				return nil, apperrors.NotFound("session not found")
			}
			if err := s.sessions.Destroy(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"sessionId": id, "destroyed": true}, nil
		},
	}
}

func (s *Server) meOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "me.get",
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			projects, err := s.engine.ProjectsForUser(ctx, sc.Principal.ID)
			if err != nil {
				return nil, err
			}
			if projects == nil {
				projects = []string{}
			}
			resp := MeResponse{
				ID:         sc.Principal.ID,
				Email:      sc.Principal.Email,
				SystemRole: string(sc.Principal.SystemRole),
				Projects:   projects,
			}
			if sc.Session != nil {
				resp.SessionID = sc.Session.ID
			}
			return resp, nil
		},
	}
}

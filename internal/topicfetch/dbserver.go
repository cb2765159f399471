package topicfetch

import (
	"context"

	"github.com/tOgg1/topicindex/internal/db"
	"github.com/tOgg1/topicindex/internal/models"
)

// DBServer answers server queries from a message table.
type DBServer struct {
	repo *db.MessageRepository
}

// NewDBServer creates a DBServer over repo.
func NewDBServer(repo *db.MessageRepository) *DBServer {
	return &DBServer{repo: repo}
}

func (s *DBServer) StreamTopics(ctx context.Context, streamID models.StreamID) ([]models.ServerTopic, error) {
	return s.repo.StreamTopics(ctx, streamID)
}

func (s *DBServer) LatestMessageInTopic(ctx context.Context, streamID models.StreamID, topic string) (models.Message, bool, error) {
	return s.repo.LatestInTopic(ctx, streamID, topic)
}

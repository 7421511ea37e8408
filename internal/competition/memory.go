package competition

import (
	"sync"

	"github.com/maelsh/dueli-broadcast/internal/domain"
)

// MemoryService is an in-process competition store for development
// setups without the surrounding backend, and for tests.
type MemoryService struct {
	mu           sync.Mutex
	competitions map[string]record
}

type record struct {
	comp     domain.Competition
	videoURL string
}

func NewMemoryService() *MemoryService {
	return &MemoryService{competitions: make(map[string]record)}
}

func (s *MemoryService) Put(comp domain.Competition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitions[comp.ID] = record{comp: comp}
}

func (s *MemoryService) GetCompetition(id string) (domain.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.competitions[id]
	if !ok {
		return domain.Competition{}, domain.ErrCompetitionNotFound
	}
	return rec.comp, nil
}

func (s *MemoryService) SetLive(id string, distributionURL string) error {
	return s.setStatus(id, "live", distributionURL)
}

func (s *MemoryService) SetEnded(id string, recordedAssetURL string) error {
	return s.setStatus(id, "ended", recordedAssetURL)
}

// VideoURL returns the last stored distribution or asset URL.
func (s *MemoryService) VideoURL(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.competitions[id].videoURL
}

func (s *MemoryService) setStatus(id, status, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.competitions[id]
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	rec.comp.Status = status
	rec.videoURL = url
	s.competitions[id] = rec
	return nil
}

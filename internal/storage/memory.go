package storage

import (
	"context"
	"sync"
)

// Memory keeps encoded records in process. Used in dev mode and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) SaveConversation(_ context.Context, rec ConversationRecord) (Response, error) {
	key, err := ConversationKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	data, err := EncodeConversation(rec)
	if err != nil {
		return failed(key, err)
	}
	m.put(key, data)
	return Response{Success: true, Key: key}, nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (ConversationRecord, error) {
	key, err := ConversationKey(id)
	if err != nil {
		return ConversationRecord{}, err
	}
	data, ok := m.get(key)
	if !ok {
		return ConversationRecord{}, ErrNotFound
	}
	return DecodeConversation(data)
}

func (m *Memory) SaveAnalysis(_ context.Context, rec AnalysisRecord) (Response, error) {
	key, err := AnalysisKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	data, err := EncodeAnalysis(rec)
	if err != nil {
		return failed(key, err)
	}
	m.put(key, data)
	return Response{Success: true, Key: key}, nil
}

func (m *Memory) GetAnalysis(_ context.Context, id string) (AnalysisRecord, error) {
	key, err := AnalysisKey(id)
	if err != nil {
		return AnalysisRecord{}, err
	}
	data, ok := m.get(key)
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	return DecodeAnalysis(data)
}

func (m *Memory) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

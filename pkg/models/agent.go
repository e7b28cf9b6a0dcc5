// Package models holds the domain entities shared by every gateway
// component: agents, consciousness, inbox events, runs, plans, spaces,
// and the fan-out event catalogue. Types here are storage/wire shapes —
// they never leak an LLM vendor's own representation.
package models

import "time"

// Agent is the immutable configuration for one agent identity: name,
// system-prompt seed, tool set, and scheduling policy. An Agent is
// one-to-one with an AgentEntity, the addressable participant identity
// the rest of the system (spaces, inboxes, runs) keys on.
type Agent struct {
	ID             string         `json:"id"`
	AgentEntityID  string         `json:"agent_entity_id"`
	Name           string         `json:"name"`
	SystemPrompt   string         `json:"system_prompt"`
	Tools          []string       `json:"tools,omitempty"`
	AsyncTools     []string       `json:"async_tools,omitempty"`
	VisibleTools   []string       `json:"visible_tools,omitempty"`
	SoftCapTokens  int            `json:"soft_cap_tokens"`
	HardCapTokens  int            `json:"hard_cap_tokens"`
	MaxSteps       int            `json:"max_steps"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SenderType distinguishes human participants from agent participants
// in a space.
type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderAgent SenderType = "agent"
)

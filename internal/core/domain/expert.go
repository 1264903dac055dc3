package domain

import (
	"strings"
	"time"
)

type ExpertStatus string

const (
	ExpertStatusRegistered ExpertStatus = "registered"
	ExpertStatusIndexing   ExpertStatus = "indexing"
	ExpertStatusIndexed    ExpertStatus = "indexed"
	ExpertStatusFailed     ExpertStatus = "failed"
)

type ProjectRef struct {
	Name         string   `json:"name"`
	Customer     string   `json:"customer,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	Role         string   `json:"role,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// ExpertProfile is the persisted employee record that retrieval indexes.
type ExpertProfile struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Seniority    string            `json:"seniority,omitempty"`
	Title        string            `json:"title,omitempty"`
	Skills       []string          `json:"skills"`
	Technologies []string          `json:"technologies"`
	Domains      []string          `json:"domains,omitempty"`
	Projects     []ProjectRef      `json:"projects,omitempty"`
	Bio          string            `json:"bio,omitempty"`
	CVPath       string            `json:"cv_path,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Status       ExpertStatus      `json:"status"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Customers lists distinct customers from the profile's projects.
func (p ExpertProfile) Customers() []string {
	out := make([]string, 0, len(p.Projects))
	for _, project := range p.Projects {
		out = append(out, project.Customer)
	}
	return NormalizeTerms(out)
}

// ProfileText is the document embedded into the vector store for this expert.
func (p ExpertProfile) ProfileText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Title != "" {
		b.WriteString(", " + p.Title)
	}
	if p.Seniority != "" {
		b.WriteString(" (" + p.Seniority + ")")
	}
	b.WriteString("\n")
	if len(p.Skills) > 0 {
		b.WriteString("Skills: " + strings.Join(p.Skills, ", ") + "\n")
	}
	if len(p.Technologies) > 0 {
		b.WriteString("Technologies: " + strings.Join(p.Technologies, ", ") + "\n")
	}
	if len(p.Domains) > 0 {
		b.WriteString("Domains: " + strings.Join(p.Domains, ", ") + "\n")
	}
	for _, project := range p.Projects {
		b.WriteString("Project: " + project.Name)
		if project.Customer != "" {
			b.WriteString(" for " + project.Customer)
		}
		if len(project.Technologies) > 0 {
			b.WriteString(" using " + strings.Join(project.Technologies, ", "))
		}
		b.WriteString("\n")
	}
	if bio := strings.TrimSpace(p.Bio); bio != "" {
		b.WriteString(bio)
	}
	return strings.TrimSpace(b.String())
}

func (p ExpertProfile) Context() ExpertContext {
	return ExpertContext{
		ID:           p.ID,
		Name:         p.Name,
		Email:        p.Email,
		Seniority:    p.Seniority,
		Skills:       p.Skills,
		Technologies: p.Technologies,
		Domains:      p.Domains,
		Projects:     p.Projects,
		Metadata:     p.Metadata,
	}
}

// ExpertContext is the per-request enrichment unit fed to answer generation.
type ExpertContext struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Seniority    string            `json:"seniority,omitempty"`
	Skills       []string          `json:"skills"`
	Technologies []string          `json:"technologies,omitempty"`
	Domains      []string          `json:"domains,omitempty"`
	Projects     []ProjectRef      `json:"projects,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type RankedExpert struct {
	Rank           int           `json:"rank"`
	RelevanceScore float64       `json:"relevance_score"`
	Expert         ExpertContext `json:"expert"`
	Sources        []SourceName  `json:"sources,omitempty"`
}

package planning

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// milestoneCriteriaRatio is the fraction of criteria that must be
// observed before a milestone counts as reached.
const milestoneCriteriaRatio = 0.7

// MilestoneParams are the caller-supplied fields for a new milestone.
type MilestoneParams struct {
	GoalID     string
	Title      string
	TargetDate time.Time
	Criteria   []string
}

// RecordMilestone attaches a checkpoint to a goal.
func (p *Planner) RecordMilestone(params MilestoneParams) (*Milestone, error) {
	if params.Title == "" {
		return nil, models.E(models.KindInvalidInput, "milestone title is empty")
	}
	if len(params.Criteria) == 0 {
		return nil, models.E(models.KindInvalidInput, "milestone has no criteria")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.goals[params.GoalID]; !ok {
		return nil, models.Ef(models.KindNotFound, "goal %s not found", params.GoalID)
	}

	m := &Milestone{
		ID:         uuid.NewString(),
		GoalID:     params.GoalID,
		Title:      params.Title,
		TargetDate: params.TargetDate,
		Criteria:   params.Criteria,
	}
	p.milestones[m.ID] = m

	p.logger.Info("Milestone recorded", "milestone_id", m.ID,
		"goal_id", params.GoalID, "title", params.Title)
	out := *m
	return &out, nil
}

// CheckMilestone evaluates a milestone against observed evidence. The
// milestone is reached when at least 70% of its criteria occur, as
// case-insensitive substrings, somewhere in the evidence. Reaching a
// milestone is sticky.
func (p *Planner) CheckMilestone(id string, evidence []string) (*Milestone, error) {
	p.mu.Lock()
	m, ok := p.milestones[id]
	if !ok {
		p.mu.Unlock()
		return nil, models.Ef(models.KindNotFound, "milestone %s not found", id)
	}

	reached := m.Achieved
	if !reached {
		matched := 0
		haystack := strings.ToLower(strings.Join(evidence, "\n"))
		for _, criterion := range m.Criteria {
			if strings.Contains(haystack, strings.ToLower(criterion)) {
				matched++
			}
		}
		reached = float64(matched) >= milestoneCriteriaRatio*float64(len(m.Criteria))
		if reached {
			m.Achieved = true
			m.AchievedAt = time.Now()
		}
	}
	out := *m
	p.mu.Unlock()

	if reached && !out.AchievedAt.IsZero() {
		p.bus.Publish(events.TopicMilestoneReached, map[string]any{
			"milestone_id": out.ID, "goal_id": out.GoalID, "title": out.Title,
		})
	}
	return &out, nil
}

// MilestoneReport summarizes a goal's checkpoints.
type MilestoneReport struct {
	GoalID     string      `json:"goal_id"`
	Total      int         `json:"total"`
	Achieved   int         `json:"achieved"`
	Overdue    []Milestone `json:"overdue,omitempty"`
	OnTrack    []Milestone `json:"on_track,omitempty"`
	NextTarget *time.Time  `json:"next_target,omitempty"`
}

// MilestoneProgress reports where a goal's milestones stand: achieved
// counts, overdue checkpoints, and the nearest upcoming target date.
func (p *Planner) MilestoneProgress(goalID string) (*MilestoneReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.goals[goalID]; !ok {
		return nil, models.Ef(models.KindNotFound, "goal %s not found", goalID)
	}

	now := time.Now()
	report := &MilestoneReport{GoalID: goalID}
	for _, m := range p.milestones {
		if m.GoalID != goalID {
			continue
		}
		report.Total++
		switch {
		case m.Achieved:
			report.Achieved++
		case !m.TargetDate.IsZero() && m.TargetDate.Before(now):
			report.Overdue = append(report.Overdue, *m)
		default:
			report.OnTrack = append(report.OnTrack, *m)
		}
	}
	sort.Slice(report.Overdue, func(i, j int) bool {
		return report.Overdue[i].TargetDate.Before(report.Overdue[j].TargetDate)
	})
	sort.Slice(report.OnTrack, func(i, j int) bool {
		return report.OnTrack[i].TargetDate.Before(report.OnTrack[j].TargetDate)
	})
	if len(report.OnTrack) > 0 && !report.OnTrack[0].TargetDate.IsZero() {
		t := report.OnTrack[0].TargetDate
		report.NextTarget = &t
	}
	return report, nil
}

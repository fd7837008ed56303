package game

// QuestType classifies a quest
type QuestType string

const (
	QuestMain   QuestType = "main"
	QuestSide   QuestType = "side"
	QuestHidden QuestType = "hidden"
)

// QuestStatus mirrors the bucket a quest lives in
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
)

// QuestObjective is an independently completable step of a quest
type QuestObjective struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Quest is a goal with ordered sub-objectives
type Quest struct {
	ID            string           `json:"id" yaml:"id"`
	Title         string           `json:"title" yaml:"title"`
	Description   string           `json:"description" yaml:"description"`
	Type          QuestType        `json:"type" yaml:"type"`
	Status        QuestStatus      `json:"status" yaml:"status"`
	Progress      int              `json:"progress" yaml:"progress"`
	SubObjectives []QuestObjective `json:"subObjectives" yaml:"subObjectives"`
}

// QuestState holds a session's quests in three buckets
type QuestState struct {
	Active    []Quest `json:"active" yaml:"active"`
	Completed []Quest `json:"completed" yaml:"completed"`
	Failed    []Quest `json:"failed" yaml:"failed"`
}

func (qs *QuestState) normalize() {
	if qs.Active == nil {
		qs.Active = []Quest{}
	}
	if qs.Completed == nil {
		qs.Completed = []Quest{}
	}
	if qs.Failed == nil {
		qs.Failed = []Quest{}
	}
	for _, bucket := range [][]Quest{qs.Active, qs.Completed, qs.Failed} {
		for i := range bucket {
			if bucket[i].SubObjectives == nil {
				bucket[i].SubObjectives = []QuestObjective{}
			}
		}
	}
}

// ObjectiveProgress is floor(100 * completed / total), or 0 with no objectives
func ObjectiveProgress(objectives []QuestObjective) int {
	if len(objectives) == 0 {
		return 0
	}
	completed := 0
	for _, o := range objectives {
		if o.Completed {
			completed++
		}
	}
	return completed * 100 / len(objectives)
}

// CompleteObjective marks an objective of an active quest as completed and
// recomputes that quest's progress. A matching quest gets its progress
// recomputed even when the objective id is unknown, repairing a stale value.
// It reports whether anything changed. Unknown quest ids leave the state
// untouched. Quests are never moved out of the active bucket here.
func CompleteObjective(qs *QuestState, questID, objectiveID string) bool {
	for i := range qs.Active {
		quest := &qs.Active[i]
		if quest.ID != questID {
			continue
		}
		for j := range quest.SubObjectives {
			if quest.SubObjectives[j].ID == objectiveID {
				quest.SubObjectives[j].Completed = true
				quest.Progress = ObjectiveProgress(quest.SubObjectives)
				return true
			}
		}
		progress := ObjectiveProgress(quest.SubObjectives)
		if progress == quest.Progress {
			return false
		}
		quest.Progress = progress
		return true
	}
	return false
}

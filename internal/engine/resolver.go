package engine

import (
	"github.com/lingoreach/exam-session-service/internal/models"
)

// ResolvedSection pairs a fetched section item with its fetched questions.
// For writing sections the question slice stays empty: the item itself is the
// atomic prompt.
type ResolvedSection struct {
	Item      models.SectionItem
	Questions []models.Question
}

// Flatten concatenates all sections' questions into one serially-numbered
// sequence. Sections are walked in input order, questions in fetch order, so
// serial numbers are contiguous and 1-based regardless of the order the
// concurrent fetches resolved in. Returns the question items, the per-section
// boundary descriptors, and the catalog snapshot keyed by question id.
func Flatten(kind models.SectionKind, sections []ResolvedSection) ([]QuestionItem, []SectionDescriptor, map[uint]models.Question) {
	var items []QuestionItem
	descriptors := make([]SectionDescriptor, 0, len(sections))
	questions := make(map[uint]models.Question)

	serial := 0
	for _, sec := range sections {
		desc := SectionDescriptor{
			ID:          sec.Item.ID,
			StartSerial: serial + 1,
		}
		if sec.Item.ContentRef != nil {
			desc.ContentRef = *sec.Item.ContentRef
		}

		if kind == models.SectionWriting {
			serial++
			item := QuestionItem{
				ID:           sec.Item.ID,
				SerialNumber: serial,
			}
			if sec.Item.Topic != nil {
				item.Topic = *sec.Item.Topic
			}
			if sec.Item.MinWords != nil {
				item.MinWords = *sec.Item.MinWords
			}
			if sec.Item.MaxWords != nil {
				item.MaxWords = *sec.Item.MaxWords
			}
			items = append(items, item)
		} else {
			for _, q := range sec.Questions {
				serial++
				items = append(items, QuestionItem{
					ID:           q.ID,
					SerialNumber: serial,
				})
				questions[q.ID] = q
			}
		}

		desc.EndSerial = serial
		descriptors = append(descriptors, desc)
	}

	return items, descriptors, questions
}

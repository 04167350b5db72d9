package vocab

import (
	"strings"

	"github.com/smith3v/wa-word-reminder/pkg/db"
)

// Word is a vocabulary entry as delivered to a subscriber.
type Word struct {
	Word          string `json:"word"`
	Pronunciation string `json:"pronunciation"`
	Definition    string `json:"definition"`
	Example       string `json:"example"`
	MemoryAid     string `json:"memory_aid"`
	PartOfSpeech  string `json:"part_of_speech"`
}

func fromModel(m db.VocabularyWord) Word {
	return Word{
		Word:          m.Word,
		Pronunciation: m.Pronunciation,
		Definition:    m.Definition,
		Example:       m.Example,
		MemoryAid:     m.MemoryAid,
		PartOfSpeech:  m.PartOfSpeech,
	}
}

func (w Word) model(category, source string) db.VocabularyWord {
	return db.VocabularyWord{
		Category:      category,
		Word:          w.Word,
		Pronunciation: w.Pronunciation,
		Definition:    w.Definition,
		Example:       w.Example,
		MemoryAid:     w.MemoryAid,
		PartOfSpeech:  w.PartOfSpeech,
		Source:        source,
	}
}

// Variables builds the outbox payload for the word.
func (w Word) Variables(category, timezone string) db.MessageVariables {
	return db.MessageVariables{
		Word:          w.Word,
		Pronunciation: w.Pronunciation,
		Definition:    w.Definition,
		Example:       w.Example,
		MemoryAid:     w.MemoryAid,
		PartOfSpeech:  w.PartOfSpeech,
		Category:      category,
		Timezone:      timezone,
	}
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

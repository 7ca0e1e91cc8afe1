package pipeline

import (
	"github.com/sirupsen/logrus"

	"deepfrog/internal/lemma"
)

// lemmatize reads each word-level label as an edit script and fills Lemma.
// A script that does not fit its word leaves the word unchanged.
func lemmatize(log *logrus.Logger, records []Record) {
	for i := range records {
		r := &records[i]
		out, err := lemma.Compute(r.Word, r.Entity)
		if err != nil {
			log.WithFields(logrus.Fields{
				"word":   r.Word,
				"script": r.Entity,
			}).Warnf("edit script does not apply: %v", err)
			r.Lemma = r.Word
			continue
		}
		r.Lemma = out
	}
}

// Package cli renders answers and tag sets for the medquery command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/tagger"
	"github.com/RohitChoukiker/medQuery/pkg/utils"
	"github.com/fatih/color"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetLen bounds how much of each source chunk is printed in text mode.
const snippetLen = 240

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	label   = color.New(color.FgYellow).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

// WriteAnswer writes an answer and its sources to w in the given format.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "\n%s\n%s\n", heading("Answer"), ans.Text)
	if ans.Category != "" {
		fmt.Fprintf(w, "%s %s\n", label("Category:"), ans.Category)
	}
	if len(ans.Sources) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%s\n", heading(fmt.Sprintf("Sources (%d)", len(ans.Sources))))
	for i, s := range ans.Sources {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s %s\n", i+1, label(sourceName(s)), faint(fmt.Sprintf("score %.4f", s.Score)))
		fmt.Fprintf(w, "%s\n", utils.Truncate(strings.TrimSpace(s.Text), snippetLen))
	}
	fmt.Fprintln(w)
	return nil
}

// TagOutput is the JSON shape of the tag command.
type TagOutput struct {
	tagger.TagSet
	MedicalNumbers []tagger.MedicalNumber `json:"medical_numbers"`
	Category       tagger.Category        `json:"category"`
}

// WriteTags writes a tag set to w in the given format. Empty groups are
// omitted in text mode.
func WriteTags(w io.Writer, out TagOutput, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "%s %s\n", label("Category:"), out.Category)
	writeGroups(w, "Entities", out.Entities)
	writeList(w, "Keywords", out.Keywords)
	writeList(w, "Abbreviations", out.Abbreviations)
	if len(out.Dosages) > 0 {
		fmt.Fprintf(w, "%s\n", heading("Dosages"))
		for _, d := range out.Dosages {
			fmt.Fprintf(w, "  %s %s\n", d.Text, faint(fmt.Sprintf("[%d:%d]", d.Start, d.End)))
		}
	}
	writeGroups(w, "Vital signs", out.VitalSigns)
	if len(out.MedicalNumbers) > 0 {
		fmt.Fprintf(w, "%s\n", heading("Measurements"))
		for _, n := range out.MedicalNumbers {
			fmt.Fprintf(w, "  %s: %s\n", label(n.Type), n.Text)
		}
	}
	if len(out.NamedEntities) > 0 {
		fmt.Fprintf(w, "%s\n", heading("Named entities"))
		for _, e := range out.NamedEntities {
			fmt.Fprintf(w, "  %s (%s)\n", e.Text, e.Label)
		}
	}
	fmt.Fprintf(w, "%s %d sentences, %d words\n", label("Text:"), out.SentenceCount, out.WordCount)
	return nil
}

func writeGroups(w io.Writer, title string, groups map[string][]string) {
	names := make([]string, 0, len(groups))
	for name, values := range groups {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)
	fmt.Fprintf(w, "%s\n", heading(title))
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", label(name+":"), strings.Join(groups[name], ", "))
	}
}

func writeList(w io.Writer, title string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(w, "%s %s\n", heading(title+":"), strings.Join(values, ", "))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sourceName(s models.ScoredChunk) string {
	src := s.Metadata[models.MetaSource]
	if src == "" {
		src = "unknown source"
	}
	if idx, ok := s.Metadata[models.MetaChunkIndex]; ok {
		return fmt.Sprintf("%s#%s", src, idx)
	}
	return src
}

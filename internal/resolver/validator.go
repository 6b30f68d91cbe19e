package resolver

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ValidationResult is the advisory output of ValidateBreakpointLine. It is
// a pure function of (file contents, line): identical inputs always
// produce an identical result.
type ValidationResult struct {
	IsValid     bool
	Line        string
	Warnings    []string
	Suggestions []string
}

var functionDefKeywords = []string{"func ", "def ", "async def "}
var classDefKeywords = []string{"class "}
var commentIntroducers = []string{"#", "//", "/*"}
var importKeywords = []string{"import ", "from "}

// ValidateBreakpointLine reads every line of path as UTF-8 text (bounded:
// a single line longer than 1 MiB is a read error), clips to its line
// count, and inspects the target line after
// trimming leading whitespace, per the rules table in spec §4.F.
func ValidateBreakpointLine(path string, line int) (ValidationResult, error) {
	lines, err := readLines(path)
	if err != nil {
		return ValidationResult{}, err
	}
	if line < 1 || line > len(lines) {
		return ValidationResult{}, fmt.Errorf("line number out of range: total_lines=%d", len(lines))
	}

	raw := lines[line-1]
	trimmed := strings.TrimLeft(raw, " \t")

	result := ValidationResult{Line: trimmed}

	switch {
	case startsWithAny(trimmed, functionDefKeywords):
		result.Warnings = append(result.Warnings, "function-definition line")
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("break on the next line (line %d) instead, or break at the call site and step in", line+1))
	case startsWithAny(trimmed, classDefKeywords):
		result.Warnings = append(result.Warnings, "class-definition line")
		result.Suggestions = append(result.Suggestions, "break inside __init__ or a method instead")
	case trimmed == "" || startsWithAny(trimmed, commentIntroducers):
		result.Warnings = append(result.Warnings, "comment or blank")
		if next, ok := firstNonBlankNonComment(lines, line, 5); ok {
			result.Suggestions = append(result.Suggestions, fmt.Sprintf("line %d", next))
		}
	case startsWithAny(trimmed, importKeywords):
		result.Warnings = append(result.Warnings, "import statement")
		result.Suggestions = append(result.Suggestions, "break inside a function instead")
	}

	result.IsValid = len(result.Warnings) == 0
	return result, nil
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// firstNonBlankNonComment scans up to maxScan lines after lineNum (1-based)
// for the first line that is neither blank nor a comment, returning its
// 1-based line number.
func firstNonBlankNonComment(lines []string, lineNum int, maxScan int) (int, bool) {
	for i := lineNum; i < lineNum+maxScan && i < len(lines); i++ {
		trimmed := strings.TrimLeft(lines[i], " \t")
		if trimmed != "" && !startsWithAny(trimmed, commentIntroducers) {
			return i + 1, true
		}
	}
	return 0, false
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return lines, nil
}

package processor

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minResumeWords          = 50
	minResumeKeywords       = 3
	minContactIndicators    = 2
	minProfessionalTerms    = 3
	maxNonResumeIndicators  = 4
	strongResumeKeywordHits = 5
	minPhoneDigits          = 9
)

var (
	resumeKeywords = []string{
		"experience", "work experience", "professional experience", "employment",
		"education", "skills", "technical skills", "summary", "objective", "profile",
		"projects", "certifications", "awards", "achievements", "references",
		"volunteer", "languages", "interests", "internship", "qualifications",
	}
	professionalTerms = []string{
		"managed", "developed", "led", "designed", "implemented", "responsible",
		"collaborated", "improved", "engineer", "manager", "analyst", "developer",
		"intern", "bachelor", "master", "degree", "university", "college",
		"team", "years",
	}
	nonResumeIndicators = []string{
		"chapter", "abstract", "bibliography", "table of contents", "introduction",
		"conclusion", "methodology", "hypothesis", "literature review", "appendix",
		"figure", "et al", "isbn", "acknowledgements",
	}

	wordPattern     = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'+#.-]*`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?\(?\d[\d \t().-]{6,}\d`)
	yearRunPattern  = regexp.MustCompile(`^[(\s]*(?:(?:19|20)\d{2}[\s().-]*)+$`)
	urlPattern      = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	contactKeywords = []string{"linkedin", "github", "phone", "email", "mobile", "portfolio"}
)

// ResumeValidator 关键词密度启发式，只作为廉价的预过滤
type ResumeValidator struct{}

func NewResumeValidator() *ResumeValidator {
	return &ResumeValidator{}
}

// ResumeSignals 校验用到的各项计数
type ResumeSignals struct {
	Words              int
	ResumeKeywords     int
	ContactIndicators  int
	ProfessionalTerms  int
	NonResumeIndicator int
}

// Analyze 统计文本中的简历特征，同一关键词只计一次
func (v *ResumeValidator) Analyze(text string) ResumeSignals {
	lower := strings.ToLower(text)
	s := ResumeSignals{
		Words:              len(wordPattern.FindAllString(text, -1)),
		ResumeKeywords:     countTerms(lower, resumeKeywords),
		ProfessionalTerms:  countTerms(lower, professionalTerms),
		NonResumeIndicator: countTerms(lower, nonResumeIndicators),
	}

	for _, re := range []*regexp.Regexp{emailPattern, urlPattern} {
		if re.MatchString(text) {
			s.ContactIndicators++
		}
	}
	if hasPhoneNumber(text) {
		s.ContactIndicators++
	}
	s.ContactIndicators += countTerms(lower, contactKeywords)
	return s
}

// Validate 不像简历时返回带用户提示的 NotAResumeError
func (v *ResumeValidator) Validate(fileID, text string) error {
	s := v.Analyze(text)

	if s.Words < minResumeWords {
		return NewNotAResumeError(fileID, fmt.Sprintf(
			"The document is too short to be a resume (%d words found, at least %d required).", s.Words, minResumeWords))
	}
	if s.ResumeKeywords < minResumeKeywords && s.ContactIndicators < minContactIndicators && s.ProfessionalTerms < minProfessionalTerms {
		return NewNotAResumeError(fileID,
			"The document does not look like a resume: no resume sections, contact details or work history were found.")
	}
	if s.NonResumeIndicator >= maxNonResumeIndicators && s.ResumeKeywords < strongResumeKeywordHits {
		return NewNotAResumeError(fileID,
			"The document looks like an article or academic paper rather than a resume. Please upload your resume.")
	}
	return nil
}

// hasPhoneNumber 至少 9 位数字，且不能只是 "2019 - 2021" 这类年份区间
func hasPhoneNumber(text string) bool {
	for _, candidate := range phonePattern.FindAllString(text, -1) {
		if yearRunPattern.MatchString(candidate) {
			continue
		}
		digits := 0
		for _, r := range candidate {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= minPhoneDigits {
			return true
		}
	}
	return false
}

// countTerms 按单词边界匹配，避免 "led" 命中 "called"
func countTerms(lower string, terms []string) int {
	n := 0
	for _, term := range terms {
		if termPattern(term).MatchString(lower) {
			n++
		}
	}
	return n
}

var termPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, list := range [][]string{resumeKeywords, professionalTerms, nonResumeIndicators, contactKeywords} {
		for _, term := range list {
			termPatterns[term] = regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
		}
	}
}

func termPattern(term string) *regexp.Regexp {
	if re, ok := termPatterns[term]; ok {
		return re
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
}

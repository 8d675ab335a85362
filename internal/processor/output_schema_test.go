package processor

import (
	"errors"
	"testing"

	"resume-tailor/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validStructuredOutput = `{
  "resume": {
    "contact": {"name": "Jane Doe", "email": "jane.doe@example.com", "github": "github.com/janedoe"},
    "summary": "Backend engineer focused on distributed systems.",
    "skills": [{"category": "Languages", "skills": ["Go", "Python"]}],
    "experience": [{"title": "Senior Software Engineer", "company": "Acme Corp", "startDate": "2021", "endDate": "Present",
      "achievements": ["Led the billing migration, cutting latency by 40%."]}],
    "education": [{"degree": "BSc Computer Science", "institution": "TU Munich", "graduationYear": 2018}],
    "certifications": [{"name": "AWS Solutions Architect", "issuer": "AWS", "date": "2022"}]
  },
  "coverLetter": {"companyName": "Initech", "position": "Platform Engineer", "paragraphs": ["Dear hiring team,", "I led..."]},
  "matchScore": {"overall": 82, "skills": 90, "experience": 80, "education": 70,
    "summary": "Strong backend match.", "strengths": ["Go"], "gaps": ["No Rust"]}
}`

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	obj, err := parser.DecodeJSONObject(raw)
	require.NoError(t, err)
	return obj
}

// validateWith 用内置结构校验
func validateWith(t *testing.T, id string, obj map[string]interface{}) error {
	t.Helper()
	lib, err := LoadPromptLibrary("")
	require.NoError(t, err)
	schema, err := lib.Schema(id)
	require.NoError(t, err)
	return schema.Validate(obj)
}

func TestValidateOutputAcceptsStructured(t *testing.T) {
	require.NoError(t, validateWith(t, "structured-v1", decode(t, validStructuredOutput)))
}

func TestValidateOutputReportsEveryViolation(t *testing.T) {
	obj := decode(t, validStructuredOutput)
	resume := obj["resume"].(map[string]interface{})
	delete(resume["contact"].(map[string]interface{}), "email")
	resume["skills"] = "Go, Python"
	delete(obj, "coverLetter")
	score := obj["matchScore"].(map[string]interface{})
	score["overall"] = 120
	score["skills"] = "high"
	score["education"] = 70.5

	err := validateWith(t, "structured-v1", obj)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaValidation))

	var sve *SchemaValidationError
	require.True(t, errors.As(err, &sve))
	paths := make([]string, 0, len(sve.Violations))
	for _, v := range sve.Violations {
		paths = append(paths, v.Path)
	}
	assert.ElementsMatch(t, []string{
		"resume.contact.email",
		"resume.skills",
		"coverLetter",
		"matchScore.overall",
		"matchScore.skills",
		"matchScore.education",
	}, paths)
}

func TestValidateOutputOptionalSectionsCheckedWhenPresent(t *testing.T) {
	obj := decode(t, validStructuredOutput)
	resume := obj["resume"].(map[string]interface{})
	resume["languages"] = []interface{}{map[string]interface{}{"language": "German"}, "English"}
	resume["contact"].(map[string]interface{})["phone"] = 5551234

	var sve *SchemaValidationError
	require.ErrorAs(t, validateWith(t, "structured-v1", obj), &sve)
	assert.ElementsMatch(t, []Violation{
		{Path: "resume.contact.phone", Message: "must be a string"},
		{Path: "resume.languages[0].proficiency", Message: "required field is missing"},
		{Path: "resume.languages[1]", Message: "must be an object"},
	}, sve.Violations)
}

func TestValidateOutputScoreBounds(t *testing.T) {
	for _, tc := range []struct {
		score interface{}
		ok    bool
	}{
		{0, true}, {100, true}, {-1, false}, {101, false}, {"80", false}, {nil, false},
	} {
		obj := decode(t, validStructuredOutput)
		obj["matchScore"].(map[string]interface{})["overall"] = tc.score
		err := validateWith(t, "structured-v1", obj)
		if tc.ok {
			assert.NoError(t, err, "score=%v", tc.score)
		} else {
			assert.ErrorIs(t, err, ErrSchemaValidation, "score=%v", tc.score)
		}
	}
}

func TestValidateOutputPlain(t *testing.T) {
	require.NoError(t, validateWith(t, "plain-v1", decode(t, `{"tailoredResume":"JANE DOE","coverLetter":"Dear..."}`)))

	err := validateWith(t, "plain-v1", decode(t, `{"tailoredResume":"  "}`))
	var sve *SchemaValidationError
	require.ErrorAs(t, err, &sve)
	assert.Len(t, sve.Violations, 2)

	lib, err := LoadPromptLibrary("")
	require.NoError(t, err)
	_, err = lib.Schema("nope")
	assert.Error(t, err)
}

func TestValidateOutputReportsScoreBoundsAndTypes(t *testing.T) {
	obj := decode(t, validStructuredOutput)
	score := obj["matchScore"].(map[string]interface{})
	score["overall"] = 120
	score["gaps"] = "none"

	var sve *SchemaValidationError
	require.ErrorAs(t, validateWith(t, "structured-v1", obj), &sve)
	assert.Equal(t, "structured-v1", sve.Schema)
	assert.ElementsMatch(t, []Violation{
		{Path: "matchScore.overall", Message: "must be between 0 and 100, got 120"},
		{Path: "matchScore.gaps", Message: "must be an array"},
	}, sve.Violations)
}

func TestParseOutputSchemaRejectsInvalidDocument(t *testing.T) {
	_, err := ParseOutputSchema("broken", []byte(`{"type": "object", "properties": `))
	assert.Error(t, err)

	_, err = ParseOutputSchema("bad-type", []byte(`{"type": "strng"}`))
	assert.Error(t, err)
}

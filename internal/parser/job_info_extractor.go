package parser

import (
	"context"
	"fmt"
	"log"
	"strings"

	"resume-tailor/internal/constants"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

const jobInfoPrompt = `Extract the hiring company name and the job title from the job description below.
Respond with a single JSON object: {"companyName": "...", "jobTitle": "..."}.
Use an empty string for any value that is not stated.

JOB DESCRIPTION:
%s`

// JD 只取前面一段，公司名和职位一般出现在开头
const jobInfoMaxChars = 4000

// JobInfo 从岗位描述里抽取的公司名和职位
type JobInfo struct {
	CompanyName string
	JobTitle    string
}

// JobInfoExtractor 用小模型低温度抽取公司名/职位，失败时返回占位值
type JobInfoExtractor struct {
	llm         model.BaseChatModel
	logger      *log.Logger
	temperature float32
}

func NewJobInfoExtractor(llm model.BaseChatModel, logger *log.Logger) *JobInfoExtractor {
	return &JobInfoExtractor{llm: llm, logger: logger, temperature: 0.1}
}

// Extract 永远返回可用的 JobInfo；error 仅用于记录
func (e *JobInfoExtractor) Extract(ctx context.Context, jobDescription string) (JobInfo, error) {
	info := JobInfo{CompanyName: constants.UnknownCompany, JobTitle: constants.UnknownPosition}
	if e == nil || e.llm == nil {
		return info, fmt.Errorf("未配置抽取模型")
	}

	jd := []rune(strings.TrimSpace(jobDescription))
	if len(jd) == 0 {
		return info, fmt.Errorf("岗位描述为空")
	}
	if len(jd) > jobInfoMaxChars {
		jd = jd[:jobInfoMaxChars]
	}

	resp, err := e.llm.Generate(ctx,
		[]*schema.Message{schema.UserMessage(fmt.Sprintf(jobInfoPrompt, string(jd)))},
		model.WithTemperature(e.temperature),
		WithJSONResponse(),
	)
	if err != nil {
		e.logf("抽取公司名/职位失败，使用占位值: %v", err)
		return info, err
	}

	raw, err := ExtractJSONObject(resp.Content)
	if err != nil {
		e.logf("抽取结果不是 JSON，使用占位值: %.200s", resp.Content)
		return info, err
	}

	if v := strings.TrimSpace(gjson.Get(raw, "companyName").String()); v != "" {
		info.CompanyName = v
	}
	if v := strings.TrimSpace(gjson.Get(raw, "jobTitle").String()); v != "" {
		info.JobTitle = v
	}
	return info, nil
}

func (e *JobInfoExtractor) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

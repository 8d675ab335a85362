package processor

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.yaml prompts/*.schema.json
var builtinPrompts embed.FS

// PromptTemplate 一个版本化的生成提示词
type PromptTemplate struct {
	Version     string  `yaml:"version"`
	Schema      string  `yaml:"schema"` // 输出校验使用的结构 ID
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
	Template    string  `yaml:"template"`

	tmpl   *template.Template
	output *OutputSchema
}

// PromptData 模板可用的字段
type PromptData struct {
	JobDescription string
	ResumeContext  string
	CompanyName    string
	JobTitle       string
}

// Render 渲染用户消息
func (p *PromptTemplate) Render(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("渲染提示词 %s 失败: %w", p.Version, err)
	}
	return buf.String(), nil
}

// ValidateOutput 按模板绑定的输出结构校验模型输出
func (p *PromptTemplate) ValidateOutput(obj map[string]interface{}) error {
	return p.output.Validate(obj)
}

// PromptLibrary 内置模板与输出结构，加上 prompt_dir 中的覆盖
type PromptLibrary struct {
	templates map[string]*PromptTemplate
	schemas   map[string]*OutputSchema
}

// LoadPromptLibrary dir 为空时只加载内置文件；dir 中的 *.yaml 与 *.schema.json 按版本/ID 覆盖或追加
func LoadPromptLibrary(dir string) (*PromptLibrary, error) {
	schemas, err := loadOutputSchemas(dir)
	if err != nil {
		return nil, err
	}
	lib := &PromptLibrary{templates: make(map[string]*PromptTemplate), schemas: schemas}

	entries, err := fs.Glob(builtinPrompts, "prompts/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		data, err := builtinPrompts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取内置提示词 %s 失败: %w", name, err)
		}
		if err := lib.add(name, data); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return lib, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("扫描提示词目录 %s 失败: %w", dir, err)
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取提示词文件 %s 失败: %w", path, err)
		}
		if err := lib.add(path, data); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

func (l *PromptLibrary) add(source string, data []byte) error {
	var p PromptTemplate
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("解析提示词文件 %s 失败: %w", source, err)
	}
	if p.Version == "" {
		return fmt.Errorf("提示词文件 %s 缺少 version", source)
	}
	if strings.TrimSpace(p.Template) == "" {
		return fmt.Errorf("提示词文件 %s 缺少 template", source)
	}
	if p.Schema == "" {
		p.Schema = p.Version
	}
	output, ok := l.schemas[p.Schema]
	if !ok {
		return fmt.Errorf("提示词 %s 引用了未知的输出结构 %s", p.Version, p.Schema)
	}
	p.output = output

	tmpl, err := template.New(p.Version).Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return fmt.Errorf("编译提示词 %s 失败: %w", p.Version, err)
	}
	p.tmpl = tmpl
	l.templates[p.Version] = &p
	return nil
}

// Get 按版本取模板
func (l *PromptLibrary) Get(version string) (*PromptTemplate, error) {
	p, ok := l.templates[version]
	if !ok {
		return nil, fmt.Errorf("未找到提示词版本 %q, 可用: %s", version, strings.Join(l.Versions(), ", "))
	}
	return p, nil
}

// Schema 按 ID 取输出结构
func (l *PromptLibrary) Schema(id string) (*OutputSchema, error) {
	s, ok := l.schemas[id]
	if !ok {
		return nil, fmt.Errorf("未知的输出结构: %s", id)
	}
	return s, nil
}

// Versions 已加载的版本，按名称排序
func (l *PromptLibrary) Versions() []string {
	out := make([]string, 0, len(l.templates))
	for v := range l.templates {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

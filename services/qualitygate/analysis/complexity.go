// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis implements the deterministic complexity scorer.
//
// The analyzer assigns an implementation-effort score in [0, 100] from four
// dimensions: the method name (what kind of operation it is), the entity
// shape (how much state it touches), the requirement text (what business
// and integration vocabulary it mentions), and field relationships. It is a
// pure function of its inputs: no I/O, no randomness, typically well under
// 10ms per call.
//
// The score informs upstream effort and strategy decisions; it never gates
// the grading pipeline.
package analysis

import (
	"strings"
	"time"

	"github.com/gradegate/gradegate/pkg/schema"
)

// Method tier points. Each method name is classified into one keyword
// family; the family determines the full method-dimension score.
const (
	TierRead        = 4  // get/find/list: lookups and deletes
	TierMutate      = 12 // create/update/save: single-entity writes
	TierBatch       = 20 // batch/bulk/import: multi-entity operations
	TierProcess     = 28 // process/handle/validate: business flows
	TierDistributed = 38 // saga/rollback/coordinate: distributed transactions
	TierUnmatched   = 16 // named, but matching no known family
)

// Dimension caps. The total is additionally capped at 100.
const (
	entityDimensionCap       = 30
	requirementDimensionCap  = 20
	relationshipDimensionCap = 10
	sensitiveFieldBonusCap   = 10
	totalCap                 = 100
)

// Config holds the keyword vocabularies and tunable weights. The defaults
// reproduce the observed production configuration; treat them as starting
// points, not tuned optima.
type Config struct {
	ReadKeywords        []string
	MutateKeywords      []string
	BatchKeywords       []string
	ProcessKeywords     []string
	DistributedKeywords []string

	BusinessTerms    []string
	TechnicalTerms   []string
	IntegrationTerms []string
	SensitiveTerms   []string
}

// DefaultConfig returns the standard vocabularies. Business, technical and
// integration terms carry both Latin and CJK spellings so mixed-language
// requirement text scores the same either way.
func DefaultConfig() Config {
	return Config{
		ReadKeywords: []string{
			"get", "find", "query", "select", "list", "search",
			"delete", "remove", "fetch", "retrieve", "load",
		},
		MutateKeywords: []string{
			"create", "add", "insert", "save", "persist",
			"update", "modify", "edit", "change", "set",
		},
		BatchKeywords: []string{
			"batch", "bulk", "multiple", "mass", "import",
			"export", "sync", "migrate",
		},
		ProcessKeywords: []string{
			"process", "handle", "execute", "perform", "run",
			"calculate", "compute", "validate", "verify", "check",
		},
		DistributedKeywords: []string{
			"transaction", "saga", "compensate", "rollback",
			"distributed", "coordinate", "orchestrate",
		},
		BusinessTerms: []string{
			"payment", "order", "inventory", "approval", "settlement", "refund",
			"支付", "订单", "库存", "审批", "结算", "退款",
		},
		TechnicalTerms: []string{
			"cache", "async", "message", "queue", "schedule", "job",
			"缓存", "异步", "消息", "队列", "定时", "调度",
		},
		IntegrationTerms: []string{
			"third-party", "external", "api", "microservice", "rpc", "rest",
			"第三方", "外部", "接口", "微服务",
		},
		SensitiveTerms: []string{
			"password", "token", "secret", "key", "credential",
			"privatekey", "apikey", "accesstoken",
		},
	}
}

// Breakdown itemizes the per-dimension contributions to the total score.
type Breakdown struct {
	MethodScore       int `json:"method_score"`
	EntityScore       int `json:"entity_score"`
	RequirementScore  int `json:"requirement_score"`
	RelationshipScore int `json:"relationship_score"`
}

// Result is the outcome of one analysis pass.
type Result struct {
	Score     int           `json:"score"`
	Breakdown Breakdown     `json:"breakdown"`
	Duration  time.Duration `json:"duration_ms"`
}

// Analyzer scores implementation complexity. Safe for concurrent use; the
// configuration is read-only after construction.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer. Empty vocabulary slices fall back to defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if len(cfg.ReadKeywords) == 0 {
		cfg.ReadKeywords = def.ReadKeywords
	}
	if len(cfg.MutateKeywords) == 0 {
		cfg.MutateKeywords = def.MutateKeywords
	}
	if len(cfg.BatchKeywords) == 0 {
		cfg.BatchKeywords = def.BatchKeywords
	}
	if len(cfg.ProcessKeywords) == 0 {
		cfg.ProcessKeywords = def.ProcessKeywords
	}
	if len(cfg.DistributedKeywords) == 0 {
		cfg.DistributedKeywords = def.DistributedKeywords
	}
	if len(cfg.BusinessTerms) == 0 {
		cfg.BusinessTerms = def.BusinessTerms
	}
	if len(cfg.TechnicalTerms) == 0 {
		cfg.TechnicalTerms = def.TechnicalTerms
	}
	if len(cfg.IntegrationTerms) == 0 {
		cfg.IntegrationTerms = def.IntegrationTerms
	}
	if len(cfg.SensitiveTerms) == 0 {
		cfg.SensitiveTerms = def.SensitiveTerms
	}
	return &Analyzer{cfg: cfg}
}

// Analyze scores the given method/entity/requirement triple.
//
// Inputs:
//
//	methodName - Target method name. Empty scores the lowest tier.
//	entity - Entity schema. Nil scores a fixed low default.
//	requirement - Free-form requirement text. Blank scores zero.
//
// Outputs:
//
//	Result - Total score in [0, 100] with a per-dimension breakdown.
//
// Thread Safety: Safe for concurrent use.
func (a *Analyzer) Analyze(methodName string, entity *schema.Entity, requirement string) Result {
	start := time.Now()

	b := Breakdown{
		MethodScore:       a.scoreMethod(methodName),
		EntityScore:       a.scoreEntity(entity),
		RequirementScore:  a.scoreRequirement(requirement),
		RelationshipScore: a.scoreRelationships(entity),
	}

	total := b.MethodScore + b.EntityScore + b.RequirementScore + b.RelationshipScore
	if total > totalCap {
		total = totalCap
	}
	if total < 0 {
		total = 0
	}

	return Result{
		Score:     total,
		Breakdown: b,
		Duration:  time.Since(start),
	}
}

// scoreMethod classifies the method name into one of five keyword families.
// The most complex family wins, so "processBatchPayment" scores as a
// business flow, not a batch job.
func (a *Analyzer) scoreMethod(methodName string) int {
	if strings.TrimSpace(methodName) == "" {
		return TierRead
	}
	name := strings.ToLower(methodName)

	switch {
	case containsAny(name, a.cfg.DistributedKeywords):
		return TierDistributed
	case containsAny(name, a.cfg.ProcessKeywords):
		return TierProcess
	case containsAny(name, a.cfg.BatchKeywords):
		return TierBatch
	case containsAny(name, a.cfg.MutateKeywords):
		return TierMutate
	case containsAny(name, a.cfg.ReadKeywords):
		return TierRead
	default:
		return TierUnmatched
	}
}

// scoreEntity buckets the field count and adds a bonus per sensitive field
// (credentials imply extra handling care), capped at the dimension budget.
func (a *Analyzer) scoreEntity(entity *schema.Entity) int {
	if entity == nil || len(entity.Fields) == 0 {
		return 3
	}

	var score int
	switch n := len(entity.Fields); {
	case n <= 5:
		score = 2
	case n <= 8:
		score = 6
	case n <= 12:
		score = 11
	case n <= 20:
		score = 16
	default:
		score = 20
	}

	sensitive := 0
	for _, f := range entity.Fields {
		if containsAny(strings.ToLower(f.Name), a.cfg.SensitiveTerms) {
			sensitive++
		}
	}
	score += minInt(sensitiveFieldBonusCap, sensitive*2)

	return minInt(entityDimensionCap, score)
}

// scoreRequirement counts vocabulary matches in the requirement text. The
// three vocabularies are weighted and capped independently.
func (a *Analyzer) scoreRequirement(requirement string) int {
	if strings.TrimSpace(requirement) == "" {
		return 0
	}
	text := strings.ToLower(requirement)

	score := minInt(10, countMatches(text, a.cfg.BusinessTerms)*2)
	score += minInt(6, countMatches(text, a.cfg.TechnicalTerms))
	score += minInt(4, countMatches(text, a.cfg.IntegrationTerms)*2)

	return minInt(requirementDimensionCap, score)
}

// scoreRelationships infers associations from field shapes: array types are
// one-to-many, structured types with plural or mapping names are treated as
// many-to-many, and "...Id" names are foreign keys.
func (a *Analyzer) scoreRelationships(entity *schema.Entity) int {
	if entity == nil {
		return 0
	}

	var score int
	for _, f := range entity.Fields {
		switch {
		case f.Type.IsArray():
			score += 4
		case f.Type.IsStructured() && looksManyToMany(f.Name):
			score += 6
		case f.IsForeignKeyName():
			score += 2
		}
	}
	return minInt(relationshipDimensionCap, score)
}

func looksManyToMany(fieldName string) bool {
	name := strings.ToLower(fieldName)
	return strings.HasSuffix(name, "s") ||
		strings.Contains(name, "map") ||
		strings.Contains(name, "relation") ||
		strings.Contains(name, "roles") ||
		strings.Contains(name, "permissions")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

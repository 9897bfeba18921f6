package constraints

// DefaultRegistry wires the constraint processors spec.md §4.5 requires
// into one Pipeline, in this order: geo restrictor (only when geo is
// non-nil), anonymizer, rate limiter, field filter, record count limit,
// size limit, execution time limit. Callers that need a different
// processor set or order should build the Pipeline directly instead of
// using this convenience constructor.
func DefaultRegistry(geo GeoResolver, sensitiveFields []string, missingIPDeny bool) *Pipeline {
	processors := []Processor{
		NewAnonymizer(sensitiveFields),
		NewRateLimiter(),
		NewFieldFilter(),
		NewRecordCountLimit(),
		NewSizeLimit(""),
		NewExecutionTimeLimit(),
	}
	if geo != nil {
		processors = append([]Processor{NewGeoRestrictor(geo, missingIPDeny)}, processors...)
	}
	return NewPipeline(processors...)
}

package taxonomy

// Continent is the top-level taxonomy group.
type Continent string

const (
	ContinentData         Continent = "Data Foundations"
	ContinentLogic        Continent = "Logic & Flow"
	ContinentOrganization Continent = "Organization"
	ContinentExecution    Continent = "Execution"
)

// Fundamental is the sub-family within a continent.
type Fundamental string

const (
	FundamentalBits        Fundamental = "Bits"
	FundamentalPrimitives  Fundamental = "Primitives"
	FundamentalVariables   Fundamental = "Variables"
	FundamentalExpressions Fundamental = "Expressions"
	FundamentalStatements  Fundamental = "Statements"
	FundamentalControl     Fundamental = "Control Structures"
	FundamentalFunctions   Fundamental = "Functions"
	FundamentalAggregates  Fundamental = "Aggregates"
	FundamentalModules     Fundamental = "Modules"
	FundamentalFiles       Fundamental = "Files"
	FundamentalTypes       Fundamental = "Types"
	FundamentalExecutables Fundamental = "Executables"
)

// Level is the structural granularity of an atom.
type Level string

const (
	LevelAtom      Level = "atom"
	LevelMolecule  Level = "molecule"
	LevelOrganelle Level = "organelle"
)

// SourceOriginal marks atoms from the base catalogue.
const SourceOriginal = "original"

// FirstDiscoveryID is the first id handed out to discovered atoms.
const FirstDiscoveryID = 97

var continents = map[Continent]struct{}{
	ContinentData: {}, ContinentLogic: {}, ContinentOrganization: {}, ContinentExecution: {},
}

var fundamentals = map[Fundamental]struct{}{
	FundamentalBits: {}, FundamentalPrimitives: {}, FundamentalVariables: {},
	FundamentalExpressions: {}, FundamentalStatements: {}, FundamentalControl: {},
	FundamentalFunctions: {}, FundamentalAggregates: {}, FundamentalModules: {},
	FundamentalFiles: {}, FundamentalTypes: {}, FundamentalExecutables: {},
}

var levels = map[Level]struct{}{
	LevelAtom: {}, LevelMolecule: {}, LevelOrganelle: {},
}

// Valid reports whether c is one of the four continents.
func (c Continent) Valid() bool { _, ok := continents[c]; return ok }

// Valid reports whether f is a known fundamental.
func (f Fundamental) Valid() bool { _, ok := fundamentals[f]; return ok }

// Valid reports whether l is a known level.
func (l Level) Valid() bool { _, ok := levels[l]; return ok }

// AtomDefinition is an immutable registry entry.
type AtomDefinition struct {
	ID              int         `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	ASTTypes        []string    `json:"ast_types" yaml:"ast_types"`
	Continent       Continent   `json:"continent" yaml:"continent"`
	Fundamental     Fundamental `json:"fundamental" yaml:"fundamental"`
	Level           Level       `json:"level" yaml:"level"`
	Description     string      `json:"description" yaml:"description"`
	DetectionRule   string      `json:"detection_rule" yaml:"detection_rule"`
	Source          string      `json:"source" yaml:"source"`
	DiscoveredAt    string      `json:"discovered_at" yaml:"discovered_at"`
	OccurrenceCount int         `json:"occurrence_count" yaml:"occurrence_count"`
}

func (a AtomDefinition) clone() AtomDefinition {
	a.ASTTypes = append([]string(nil), a.ASTTypes...)
	return a
}

// HasASTType reports whether the atom maps the given AST category.
func (a AtomDefinition) HasASTType(astType string) bool {
	for _, t := range a.ASTTypes {
		if t == astType {
			return true
		}
	}
	return false
}

// Discovery describes a new atom to append to the registry.
type Discovery struct {
	Name          string
	ASTTypes      []string
	Continent     Continent
	Fundamental   Fundamental
	Level         Level
	Description   string
	DetectionRule string
	// Source is the repository where the pattern was first observed.
	Source          string
	OccurrenceCount int
}

// Conflict reports an AST category that moved from one atom to another.
type Conflict struct {
	ASTType    string `json:"ast_type"`
	PreviousID int    `json:"previous_id"`
	NewID      int    `json:"new_id"`
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalAtoms     int            `json:"total_atoms"`
	ASTTypesMapped int            `json:"ast_types_mapped"`
	ByContinent    map[string]int `json:"by_continent"`
	ByFundamental  map[string]int `json:"by_fundamental"`
	ByLevel        map[string]int `json:"by_level"`
	BySource       map[string]int `json:"by_source"`
	NextID         int            `json:"next_id"`
}

// Category is the closed set of structural categories analyzers dispatch on.
// Anything not in the catalogue is CategoryUnknown and goes to discovery.
type Category string

const (
	CategoryLiteral    Category = "literal"
	CategoryVariable   Category = "variable"
	CategoryExpression Category = "expression"
	CategoryStatement  Category = "statement"
	CategoryControl    Category = "control"
	CategoryFunction   Category = "function"
	CategoryAggregate  Category = "aggregate"
	CategoryModule     Category = "module"
	CategoryComment    Category = "comment"
	CategoryType       Category = "type"
	CategoryExecutable Category = "executable"
	CategoryUnknown    Category = "unknown"
)

var categoryByFundamental = map[Fundamental]Category{
	FundamentalBits:        CategoryLiteral,
	FundamentalPrimitives:  CategoryLiteral,
	FundamentalVariables:   CategoryVariable,
	FundamentalExpressions: CategoryExpression,
	FundamentalStatements:  CategoryStatement,
	FundamentalControl:     CategoryControl,
	FundamentalFunctions:   CategoryFunction,
	FundamentalAggregates:  CategoryAggregate,
	FundamentalModules:     CategoryModule,
	FundamentalFiles:       CategoryComment,
	FundamentalTypes:       CategoryType,
	FundamentalExecutables: CategoryExecutable,
}

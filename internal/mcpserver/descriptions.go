package mcpserver

// Tool descriptions with interpretation guidance for LLMs.

func describeGrade() string {
	return `Runs the full analysis pipeline on a codebase and grades it A through F.

USE WHEN:
- Getting a single health verdict for a repository or directory
- Checking whether configured quality thresholds pass before a merge
- Comparing code health across modules

INTERPRETING RESULTS:
- health_index is 0-10; grade letters map A >= 8.5, B >= 7, C >= 5.5, D >= 4, else F
- components are 0-100 each: complexity, purity, coupling, dead_code, coverage, taxonomy
- A component with no input data scores 100
- passed is false when any configured threshold is missed
- stages lists every pipeline stage with OK, WARN, SKIP or FAIL

METRICS RETURNED:
- grade, health_index, components, weights, thresholds
- files, functions, nodes, edges, cycles, dead functions, Betti numbers
- per-stage status and latency`
}

func describeGraphStats() string {
	return `Builds the code graph of a codebase and reports its structure.

USE WHEN:
- Understanding how files, classes and functions connect
- Finding call cycles and unreachable functions
- Identifying the most central symbols before a refactor

INTERPRETING RESULTS:
- Nodes are files, classes, functions, variables and external references
- Edges are call, import, inherit and data_flow
- b0 counts connected components; b1 counts independent cycles
- dead_functions are functions no entry point reaches through calls
- top_ranked lists the highest PageRank nodes over all edge types

METRICS RETURNED:
- node counts by kind, edge counts by type
- cycles, dead functions, top ranked nodes`
}

func describeDiscover() string {
	return `Finds recurring syntax constructs the atom taxonomy does not cover yet.

USE WHEN:
- Extending the taxonomy for a new language or framework
- Reviewing which constructs dominate unclassified code
- Picking promotion candidates for the taxonomy

INTERPRETING RESULTS:
- coverage_ratio is the share of syntax nodes the taxonomy already knows
- Each candidate carries an occurrence count and a confidence score (0-1)
- Candidates are ranked by confidence times occurrences
- proposal holds a suggested name and classification when the heuristics found one
- min_occurrences and min_confidence filter the candidate list

METRICS RETURNED:
- total, known and unknown node counts
- ranked candidates with samples, locations and proposals`
}

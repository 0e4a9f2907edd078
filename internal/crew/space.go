package crew

// Roles of the built-in space mission crew.
const (
	RoleMissionPlanner   = "Mission Planner"
	RoleOperationsExpert = "Space Operations Expert"
	RoleDataAnalyst      = "Space Data Analyst"
	RoleQAExpert         = "Quality Assurance Expert"
)

// Tool names bound to the space crew.
const (
	ToolSearchInternet = "search_internet"
	ToolScrapeWebsite  = "scrape_website"
)

// SpaceCrew returns the four-agent space mission crew: planner, operations
// expert, data analyst and QA expert, run sequentially in that order.
func SpaceCrew() *Crew {
	return &Crew{
		Name:    "space-agents",
		Process: ProcessSequential,
		Agents: []Agent{
			{
				Role:            RoleMissionPlanner,
				Goal:            "Provide high-level, strategic advice for space mission planning based on the user's query.",
				Backstory:       "An experienced mission planner specializing in strategic insights and identifying key steps to address space mission problems.",
				AllowDelegation: true,
				Verbose:         true,
			},
			{
				Role:            RoleOperationsExpert,
				Goal:            "Elaborate on the Mission Planner's answer and provide detailed, actionable points for space operations.",
				Backstory:       "A space operations expert with deep knowledge of mission functionalities and best practices for implementation.",
				Tools:           []string{ToolSearchInternet, ToolScrapeWebsite},
				AllowDelegation: true,
				Verbose:         true,
			},
			{
				Role:            RoleDataAnalyst,
				Goal:            "Write SQL queries based on the provided database schema to address the user's question about space missions.",
				Backstory:       "A skilled space data analyst with expertise in SQL and database management.",
				AllowDelegation: true,
				Verbose:         true,
			},
			{
				Role:            RoleQAExpert,
				Goal:            "Provide insights into testing strategies and quality assurance practices for space missions.",
				Backstory:       "An experienced QA professional specializing in space mission implementations and best practices for ensuring software quality.",
				Tools:           []string{ToolSearchInternet},
				AllowDelegation: true,
				Verbose:         true,
			},
		},
		Tasks: []Task{
			{
				Name:           "mission_planning",
				Description:    "Analyze the user's query and provide high-level, strategic advice for space mission planning. Identify key steps needed to address the problem.",
				ExpectedOutput: "A high-level strategic advice and key steps to address the space mission problem.",
				Agent:          RoleMissionPlanner,
			},
			{
				Name:           "space_operations",
				Description:    "Elaborate on the Mission Planner's answer by breaking down the key steps into detailed, actionable points for space operations. Integrate relevant information from space mission resources.",
				ExpectedOutput: "Detailed, actionable points and relevant information from space mission resources.",
				Agent:          RoleOperationsExpert,
			},
			{
				Name:           "data_analysis",
				Description:    "Write an optimized and correct SQL query that addresses the user's question about space missions based on the provided database schema.",
				ExpectedOutput: "An optimized and correct SQL query.",
				Agent:          RoleDataAnalyst,
			},
			{
				Name:           "quality_assurance",
				Description:    "Provide insights into testing strategies and quality assurance practices for the given space mission query. Offer analysis on space mission functionalities and final recommendations.",
				ExpectedOutput: "Insights into testing strategies, quality assurance practices, and final recommendations.",
				Agent:          RoleQAExpert,
			},
		},
	}
}

package mcpadapter

import "github.com/mark3labs/mcp-go/mcp"

var findExpertsTool = mcp.NewTool("find_experts",
	mcp.WithDescription("Answer a staffing question: finds matching experts and explains the recommendation."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language request, e.g. \"senior Go engineers with Kafka experience in banking\""),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Maximum number of experts to rank (default 10)"),
	),
	mcp.WithBoolean("deep_research",
		mcp.Description("Iteratively expand the query with missing skills before answering"),
	),
	mcp.WithString("pattern",
		mcp.Description("Reasoning pattern for answer synthesis"),
		mcp.Enum("plain", "cascade", "cycle"),
	),
	mcp.WithBoolean("use_routing",
		mcp.Description("Classify the request intent first and shape the answer for it"),
	),
	mcp.WithString("chat_id",
		mcp.Description("Conversation id; prior turns are used as context and this turn is appended"),
	),
)

var retrieveExpertsTool = mcp.NewTool("retrieve_experts",
	mcp.WithDescription("Return ranked expert ids with fused scores, without generating an answer."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Maximum number of results (default 10)"),
	),
	mcp.WithNumber("min_similarity",
		mcp.Description("Minimum vector similarity in [0,1]"),
	),
)

var getExpertTool = mcp.NewTool("get_expert",
	mcp.WithDescription("Get the stored profile of one expert."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Expert id as returned by find_experts or retrieve_experts"),
	),
)

package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the fraud scoring MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

// transactionArgs are shared by every tool that submits a transaction.
var transactionArgs = []mcp.ToolOption{
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Identifier of the cardholder making the purchase")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount in the account currency (e.g. 45.50)")),
	mcp.WithString("merchant",
		mcp.Required(),
		mcp.Description("Merchant name as it appears on the transaction (e.g. 'Amazon')")),
	mcp.WithString("merchant_category",
		mcp.Description("Merchant category (e.g. 'retail', 'travel', 'electronics')")),
	mcp.WithString("city",
		mcp.Description("City where the transaction took place")),
	mcp.WithString("country",
		mcp.Description("Country code where the transaction took place (e.g. 'US')")),
	mcp.WithNumber("lat",
		mcp.Description("Latitude of the transaction location in degrees")),
	mcp.WithNumber("lon",
		mcp.Description("Longitude of the transaction location in degrees")),
	mcp.WithString("payment_method",
		mcp.Description("Payment method (e.g. 'card', 'wallet')")),
	mcp.WithString("device_fingerprint",
		mcp.Description("Fingerprint of the device used. Enables shared-device fraud ring checks.")),
}

func withTransactionArgs(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append(opts, transactionArgs...)
}

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	withTransactionArgs(
		mcp.WithDescription(
			"Score a card transaction for fraud. Five agents (pattern, anomaly, geographic, "+
				"merchant, network) score it in parallel and the result is a decision: "+
				"APPROVE, CHALLENGE or BLOCK, with the weighted risk score, each agent's "+
				"score and a one-line reason per agent. A detected fraud ring always blocks."),
	)...,
)

var ToolScorePattern = mcp.NewTool("score_pattern",
	withTransactionArgs(
		mcp.WithDescription(
			"Run only the pattern agent on a transaction: compares it with the user's "+
				"spending baseline and with similar past transactions. Cheaper than "+
				"analyze_transaction when only behavioural fit matters."),
	)...,
)

var ToolListAnalyses = mcp.NewTool("list_analyses",
	mcp.WithDescription(
		"List past fraud decisions for a user, newest first. Use this to explain why "+
			"a user was challenged or blocked."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Identifier of the cardholder")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of analyses to return (default 10, max 100)")),
)

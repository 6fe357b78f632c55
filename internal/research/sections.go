package research

import "google.golang.org/genai"

// Top-level report sections. Each belongs to exactly one stage.
const (
	SectionBreakingNews            = "breakingNewsSection"
	SectionBasicInformation        = "basicInformation"
	SectionPolicyAnalysis          = "policyAnalysis"
	SectionSupportBaseAnalysis     = "supportBaseAnalysis"
	SectionInternationalComparison = "internationalComparison"
	SectionCurrentStatus           = "currentStatus"
	SectionMultifacetedEvaluation  = "multifacetedEvaluation"
	SectionComprehensiveAssessment = "comprehensiveAssessment"
	SectionDataSources             = "dataSources"
)

var levels = []string{"high", "medium", "low"}

func breakingNewsSection() *genai.Schema {
	return describe(object(
		req("latestElectionResults", object(
			req("electionName", str("Name of the election")),
			req("votingDate", str("Date of voting")),
			req("seatsWon", count("Number of seats won")),
			req("votesReceived", count("Total votes received")),
			req("voteShare", percent("Vote share percentage")),
			req("partyRequirementsMet", boolean("Whether party requirements were met")),
			req("representativeComment", str("Comment from party representative")),
		)),
		req("recentImportantDevelopments", strList("Recent important developments")),
	), "Latest election results and recent developments")
}

func basicInformation() *genai.Schema {
	return describe(object(
		req("partyName", str("Official party name")),
		req("abbreviation", str("Party abbreviation")),
		req("foundingDate", str("Date of founding")),
		req("partyLeader", object(
			req("name", str("Leader's name")),
			req("age", count("Leader's age")),
			req("background", str("Leader's background")),
			req("majorAchievements", strList("Major achievements")),
		)),
		req("foundingBackground", str("Background of party founding")),
		req("headquartersLocation", str("Location of headquarters")),
		req("membershipCount", count("Total membership count")),
		req("parliamentMembers", object(
			req("houseOfRepresentatives", count("Number in House of Representatives")),
			req("houseOfCouncillors", count("Number in House of Councillors")),
		)),
	), "Basic facts about the party")
}

func policyCategory(description string) *genai.Schema {
	return describe(object(
		req("basicStance", str("Basic stance on the category")),
		req("specificMeasures", strList("Specific measures")),
		opt("fundingSources", str("Funding sources")),
		opt("targetGroups", str("Target groups")),
		opt("internationalRelationsView", str("International relations view")),
		opt("budgetAllocation", str("Budget allocation")),
		opt("targets", str("Targets or goals")),
	), description)
}

func policyAnalysis() *genai.Schema {
	return describe(object(
		req("corePhilosophy", str("Core philosophy")),
		req("slogan", str("Party slogan")),
		req("priorityPolicies", list("Priority policies", object(
			req("policyName", str("Name of the policy")),
			req("overview", str("Policy overview")),
			req("feasibilityScore", numRange("Feasibility score from 1 to 5, or 0 when no data is available", 0, 5)),
			req("scoreRationale", str("Rationale for the score")),
			req("budgetScale", str("Budget scale")),
			req("implementationPeriod", str("Implementation period")),
		))),
		req("policyCategoryStances", object(
			req("economicPolicy", policyCategory("Economic policy")),
			req("socialSecurity", policyCategory("Social security")),
			req("foreignPolicyAndSecurity", policyCategory("Foreign policy and security")),
			req("education", policyCategory("Education")),
			req("environmentAndEnergy", policyCategory("Environment and energy")),
		)),
		req("thirdPartyEvaluation", object(
			req("evaluatingOrganization", str("Name of evaluating organization")),
			req("score", count("Evaluation score")),
			req("evaluationComment", str("Evaluation comment")),
			req("comparisonWithOtherParties", str("Comparison with other parties")),
		)),
	), "Philosophy, priority policies and stances")
}

func supportBaseAnalysis() *genai.Schema {
	return describe(object(
		req("supportRatingTrends", list("Support rating trends", object(
			req("surveyDate", str("Survey date")),
			req("supportRate", percent("Support rate percentage")),
			req("surveyOrganization", str("Survey organization")),
		))),
		req("supporterCharacteristics", object(
			req("ageGroups", object(
				req("under20s", percent("Percentage under 20s")),
				req("30s40s", percent("Percentage 30s-40s")),
				req("50s60s", percent("Percentage 50s-60s")),
				req("over70s", percent("Percentage over 70s")),
			)),
			req("byOccupation", object(
				req("companyEmployee", percent("Percentage company employees")),
				req("selfEmployed", percent("Percentage self-employed")),
				req("civilServant", percent("Percentage civil servants")),
				req("homemaker", percent("Percentage homemakers")),
				req("student", percent("Percentage students")),
				req("other", percent("Percentage others")),
			)),
			req("byRegion", object(
				req("urban", percent("Percentage urban")),
				req("rural", percent("Percentage rural")),
			)),
			req("reasonsForSupport", strList("Reasons for support")),
		)),
		req("organizationalBase", object(
			req("supportingOrganizations", strList("Supporting organizations")),
			req("affiliatedOrganizations", strList("Affiliated organizations")),
			req("financialStrength", str("Financial strength")),
			req("localOrganizations", str("Local organizations")),
		)),
	), "Support ratings, supporter demographics and organizations")
}

func internationalComparison() *genai.Schema {
	return describe(object(
		req("similarParties", list("Similar parties", object(
			req("country", str("Country name")),
			req("partyName", str("Party name")),
			req("commonalities", strList("Commonalities")),
			req("differences", strList("Differences")),
			req("successCases", str("Success cases")),
			req("failureCases", str("Failure cases")),
		))),
		req("internationalReputation", str("International reputation")),
		req("foreignMediaCoverage", strList("Foreign media coverage")),
	), "Comparison with similar parties abroad")
}

func currentStatus() *genai.Schema {
	return describe(object(
		req("mainActivitiesLast3Months", list("Main activities last 3 months", object(
			req("date", str("Activity date")),
			req("activityDetails", str("Activity details")),
			req("outcomes", str("Outcomes")),
		))),
		req("mediaExposure", object(
			req("television", count("Television appearances")),
			req("newspapers", count("Newspaper mentions")),
			req("internet", count("Internet mentions")),
			req("socialMediaMentions", count("Social media mentions")),
		)),
		req("trendingPolicyProposals", strList("Trending policy proposals")),
		req("internalPartyDevelopments", str("Internal party developments")),
	), "Recent activity and media exposure")
}

func perspective(description string) *genai.Schema {
	return list(description, object(
		req("evaluator", str("Evaluator name")),
		req("title", str("Evaluator title")),
		opt("evaluationContent", str("Evaluation content")),
		opt("criticism", str("Criticism")),
		opt("basis", str("Basis for evaluation")),
		opt("specificExamples", str("Specific examples")),
	))
}

func multifacetedEvaluation() *genai.Schema {
	return describe(object(
		req("supportivePerspectives", perspective("Supportive perspectives")),
		req("criticalPerspectives", perspective("Critical perspectives")),
		req("neutralAssessment", list("Neutral assessments", object(
			req("assessor", str("Assessor name")),
			req("analysis", str("Analysis")),
			req("strengths", strList("Strengths")),
			req("weaknesses", strList("Weaknesses")),
		))),
		req("expertAnalysis", object(
			req("politicalScientist", str("Political scientist analysis")),
			req("economist", str("Economist analysis")),
			req("sociologist", str("Sociologist analysis")),
		)),
	), "Supportive, critical, neutral and expert perspectives")
}

func comprehensiveAssessment() *genai.Schema {
	return describe(object(
		req("achievements", list("Achievements", object(
			req("item", str("Achievement item")),
			req("details", str("Achievement details")),
			req("impact", enum("Impact level", levels...)),
		))),
		req("challenges", list("Challenges", object(
			req("challengeName", str("Challenge name")),
			req("details", str("Challenge details")),
			req("urgency", enum("Urgency level", levels...)),
			req("proposedSolutions", str("Proposed solutions")),
		))),
		req("futureOutlook", object(
			req("shortTerm", str("Short term outlook (within 1 year)")),
			req("mediumTerm", str("Medium term outlook (within 3 years)")),
			req("longTerm", str("Long term outlook (5+ years)")),
		)),
		req("riskFactors", strList("Risk factors")),
		req("opportunities", strList("Opportunities")),
		req("overallFindings", str("Overall findings")),
	), "Achievements, challenges and outlook")
}

func dataSource() *genai.Schema {
	return object(
		req("sourceName", str("Source name")),
		opt("publisher", str("Publisher")),
		opt("author", str("Author")),
		req("publicationDate", str("Publication date")),
		opt("url", str("URL")),
	)
}

func dataSources() *genai.Schema {
	return describe(object(
		req("primarySources", list("Primary sources", dataSource())),
		req("secondarySources", list("Secondary sources", dataSource())),
	), "Sources used for the report")
}

var sectionSchemas = map[string]func() *genai.Schema{
	SectionBreakingNews:            breakingNewsSection,
	SectionBasicInformation:        basicInformation,
	SectionPolicyAnalysis:          policyAnalysis,
	SectionSupportBaseAnalysis:     supportBaseAnalysis,
	SectionInternationalComparison: internationalComparison,
	SectionCurrentStatus:           currentStatus,
	SectionMultifacetedEvaluation:  multifacetedEvaluation,
	SectionComprehensiveAssessment: comprehensiveAssessment,
	SectionDataSources:             dataSources,
}

// NewsSchema is the contract for the single-call party news request.
func NewsSchema() *genai.Schema {
	return object(req("items", list("Latest news items, newest first", object(
		req("title", str("Headline")),
		req("summary", str("Summary in at most 100 characters")),
		req("url", str("Article URL")),
	))))
}

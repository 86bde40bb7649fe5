package scoring

import (
	"fmt"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// rule is the static part of an issue. The id never changes for a given
// condition so upstream tracking can deduplicate across runs.
type rule struct {
	id             string
	category       audit.Category
	severity       audit.Severity
	effort         audit.Effort
	whyItMatters   string
	recommendation string
}

func (r rule) issue(found, snippet string) audit.Issue {
	return audit.Issue{
		ID:             r.id,
		Category:       r.category,
		Severity:       r.severity,
		Found:          found,
		WhyItMatters:   r.whyItMatters,
		Recommendation: r.recommendation,
		Snippet:        snippet,
	}
}

func (r rule) withSeverity(s audit.Severity) rule {
	r.severity = s
	return r
}

var (
	ruleTitleMissing = rule{
		id: "title_missing", category: audit.CategoryTitleMeta, severity: audit.SeverityHigh, effort: audit.EffortLow,
		whyItMatters:   "The title is the headline shown in search results and browser tabs.",
		recommendation: "Add a unique <title> of 45-60 characters that leads with the primary keyword.",
	}
	ruleTitleLength = rule{
		id: "title_length", category: audit.CategoryTitleMeta, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Titles outside 45-60 characters get truncated or undersell the page.",
		recommendation: "Adjust the title to 45-60 characters and include the primary keyword once.",
	}
	ruleTitleKeyword = rule{
		id: "title_keyword_missing", category: audit.CategoryTitleMeta, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "Matching the query in the title confirms relevance to searchers.",
		recommendation: "Work the target keyword naturally into the title.",
	}
	ruleMetaMissing = rule{
		id: "meta_description_missing", category: audit.CategoryTitleMeta, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Without a meta description search engines pick arbitrary page text as the snippet.",
		recommendation: "Provide a benefit-led meta description of 140-160 characters.",
	}
	ruleMetaLength = rule{
		id: "meta_description_length", category: audit.CategoryTitleMeta, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "Meta descriptions influence click-through; 140-160 characters display fully.",
		recommendation: "Rewrite the meta description to 140-160 characters.",
	}
	ruleH1Missing = rule{
		id: "h1_missing", category: audit.CategoryHeadings, severity: audit.SeverityHigh, effort: audit.EffortLow,
		whyItMatters:   "The H1 communicates the primary topic of the page.",
		recommendation: "Add a single descriptive H1 that matches search intent.",
	}
	ruleH1Multiple = rule{
		id: "h1_multiple", category: audit.CategoryHeadings, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Several H1s blur which topic the page is about.",
		recommendation: "Keep one H1 and demote the others to H2.",
	}
	ruleH2Missing = rule{
		id: "h2_missing", category: audit.CategoryHeadings, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Subheadings let readers and crawlers scan the content outline.",
		recommendation: "Break the content into sections with descriptive H2 headings.",
	}
	ruleHeadingHierarchy = rule{
		id: "heading_hierarchy", category: audit.CategoryHeadings, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "Skipped heading levels make the outline harder to follow for assistive technology.",
		recommendation: "Nest headings in order: H1, then H2, then H3.",
	}
	ruleH3Heavy = rule{
		id: "h3_outnumber_h2", category: audit.CategoryHeadings, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Many H3s under few H2s suggest sections that deserve their own top-level heading.",
		recommendation: "Promote the main subtopics to H2 and keep H3 for detail within them.",
	}
	ruleContentThin = rule{
		id: "content_thin", category: audit.CategoryAnswerability, severity: audit.SeverityHigh, effort: audit.EffortHigh,
		whyItMatters:   "Pages under 200 words rarely answer a query completely.",
		recommendation: "Expand the page with a direct answer, supporting detail and examples.",
	}
	ruleContentShort = rule{
		id: "content_short", category: audit.CategoryAnswerability, severity: audit.SeverityLow, effort: audit.EffortHigh,
		whyItMatters:   "Competitive topics usually need more depth than 800 words.",
		recommendation: "Cover related subtopics and common follow-up questions.",
	}
	ruleListsMissing = rule{
		id: "lists_missing", category: audit.CategoryAnswerability, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Lists and tables are easy to scan and often lifted into rich results.",
		recommendation: "Summarize steps or comparisons as a list or table.",
	}
	ruleTablesMissing = rule{
		id: "tables_missing", category: audit.CategoryAnswerability, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Tables present comparisons and specs in a form search engines can extract.",
		recommendation: "Add a table where the page compares options, prices or specifications.",
	}
	ruleQuestionHeadings = rule{
		id: "question_headings_missing", category: audit.CategoryAnswerability, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Headings phrased as questions map directly to what people search for.",
		recommendation: "Phrase some H2/H3 headings as the questions your readers ask, and answer them right below.",
	}
	ruleKeywordHeadings = rule{
		id: "keyword_not_in_headings", category: audit.CategoryAnswerability, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "Headings that echo the target keyword reinforce topical relevance.",
		recommendation: "Use the target keyword in the H1 or at least one H2.",
	}
	ruleParagraphsLong = rule{
		id: "paragraphs_long", category: audit.CategoryStructure, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Walls of text are skimmed poorly, especially on mobile.",
		recommendation: "Split paragraphs longer than 800 characters into shorter ones.",
	}
	ruleParagraphsFew = rule{
		id: "paragraphs_few", category: audit.CategoryStructure, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Content without paragraph structure reads as thin or unorganized.",
		recommendation: "Organize the content into at least three focused paragraphs.",
	}
	ruleMainLandmark = rule{
		id: "main_landmark_missing", category: audit.CategoryStructure, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "A <main> landmark tells assistive technology and parsers where the content starts.",
		recommendation: "Wrap the primary content in a <main> element.",
	}
	ruleFormLabels = rule{
		id: "form_labels_missing", category: audit.CategoryStructure, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Form controls without labels are unusable with screen readers.",
		recommendation: "Associate every form control with a <label> or an aria-label.",
	}
	ruleSchemaMissing = rule{
		id: "schema_missing", category: audit.CategorySchema, severity: audit.SeverityMedium, effort: audit.EffortMedium,
		whyItMatters:   "Structured data helps search engines interpret content and unlock rich results.",
		recommendation: "Add JSON-LD such as Article or FAQPage where it fits the content.",
	}
	ruleSchemaContentType = rule{
		id: "schema_content_type_missing", category: audit.CategorySchema, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Only content types such as Article or HowTo describe what the page itself is.",
		recommendation: "Describe the main content with an Article, BlogPosting, HowTo or FAQPage entity.",
	}
	ruleImageAlt = rule{
		id: "image_alt_missing", category: audit.CategoryImages, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Alt text improves accessibility and image search visibility.",
		recommendation: "Give every meaningful image a short descriptive alt attribute.",
	}
	ruleInternalLinksLow = rule{
		id: "internal_links_low", category: audit.CategoryInternalLinks, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Internal links distribute authority and help crawlers discover related pages.",
		recommendation: "Add 2-5 contextual internal links with descriptive anchors.",
	}
	ruleInternalLinksExcessive = rule{
		id: "internal_links_excessive", category: audit.CategoryInternalLinks, severity: audit.SeverityLow, effort: audit.EffortMedium,
		whyItMatters:   "Very many links dilute the weight passed to each target.",
		recommendation: "Trim navigation and in-content links to the ones readers actually need.",
	}
	ruleAnchorText = rule{
		id: "anchor_text_weak", category: audit.CategoryInternalLinks, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "Generic anchors like \"click here\" tell search engines nothing about the target.",
		recommendation: "Use anchors that describe the destination page.",
	}
	ruleNoindex = rule{
		id: "noindex_present", category: audit.CategoryTechnical, severity: audit.SeverityHigh, effort: audit.EffortLow,
		whyItMatters:   "A noindex directive keeps the page out of search results entirely.",
		recommendation: "Remove noindex from the robots meta tag if the page should rank.",
	}
	ruleCanonicalMissing = rule{
		id: "canonical_missing", category: audit.CategoryTechnical, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "A canonical link consolidates signals from duplicate URLs.",
		recommendation: "Add a self-referencing canonical link.",
	}
	ruleCanonicalNotSelf = rule{
		id: "canonical_not_self", category: audit.CategoryTechnical, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "A canonical pointing elsewhere asks search engines to index another URL instead.",
		recommendation: "Confirm the canonical target is intended, or point it at this page.",
	}
	ruleViewportMissing = rule{
		id: "viewport_missing", category: audit.CategoryTechnical, severity: audit.SeverityMedium, effort: audit.EffortLow,
		whyItMatters:   "Without a viewport meta tag the page renders zoomed out on mobile.",
		recommendation: "Add a responsive viewport meta tag.",
	}
	ruleMixedContent = rule{
		id: "mixed_content", category: audit.CategoryTechnical, severity: audit.SeverityMedium, effort: audit.EffortMedium,
		whyItMatters:   "Insecure resources on an HTTPS page are blocked or flagged by browsers.",
		recommendation: "Serve every resource over HTTPS.",
	}
	ruleNofollow = rule{
		id: "nofollow_present", category: audit.CategoryTechnical, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "A page-level nofollow stops link equity from flowing to linked pages.",
		recommendation: "Remove nofollow from the robots meta tag unless it is intentional.",
	}
	ruleLangMissing = rule{
		id: "html_lang_missing", category: audit.CategoryTechnical, severity: audit.SeverityLow, effort: audit.EffortLow,
		whyItMatters:   "The lang attribute helps search engines and screen readers pick the right language.",
		recommendation: "Declare the page language on the <html> element.",
	}
)

// vitalRule builds the performance rules; poor is high severity and needs
// improvement is medium.
func vitalRule(metric string, poor bool, effort audit.Effort, why, rec string) rule {
	r := rule{
		id:             fmt.Sprintf("%s_needs_improvement", metric),
		category:       audit.CategoryPerformance,
		severity:       audit.SeverityMedium,
		effort:         effort,
		whyItMatters:   why,
		recommendation: rec,
	}
	if poor {
		r.id = fmt.Sprintf("%s_poor", metric)
		r.severity = audit.SeverityHigh
	}
	return r
}

// effortOf looks up the effort tier of an issue id.
func effortOf(id string) audit.Effort {
	if e, ok := effortIndex[id]; ok {
		return e
	}
	return audit.EffortHigh
}

var effortIndex = func() map[string]audit.Effort {
	all := []rule{
		ruleTitleMissing, ruleTitleLength, ruleTitleKeyword, ruleMetaMissing, ruleMetaLength,
		ruleH1Missing, ruleH1Multiple, ruleH2Missing, ruleHeadingHierarchy, ruleH3Heavy,
		ruleContentThin, ruleContentShort, ruleListsMissing, ruleTablesMissing, ruleQuestionHeadings, ruleKeywordHeadings,
		ruleParagraphsLong, ruleParagraphsFew, ruleMainLandmark, ruleFormLabels,
		ruleSchemaMissing, ruleSchemaContentType, ruleImageAlt,
		ruleInternalLinksLow, ruleInternalLinksExcessive, ruleAnchorText,
		ruleNoindex, ruleCanonicalMissing, ruleCanonicalNotSelf, ruleViewportMissing, ruleMixedContent,
		ruleNofollow, ruleLangMissing,
	}
	for _, v := range vitalRules {
		all = append(all, v.poor, v.needsImprovement)
	}
	index := make(map[string]audit.Effort, len(all))
	for _, r := range all {
		index[r.id] = r.effort
	}
	return index
}()

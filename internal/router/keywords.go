package router

// Keyword tables for the rule tier. Matching is substring over the
// lower-cased query, so multi-word English entries stay lower case.

// recencyKeywords signal the answer depends on current information.
var recencyKeywords = []string{
	"최신", "최근", "새로운", "오늘", "이번", "요즘",
	"2024", "2025", "2026",
	"트렌드", "동향", "뜨는",
	"latest", "recent", "today", "trending", "this week",
}

// conceptualKeywords signal an explanation or comparison question.
var conceptualKeywords = []string{
	"뭐야", "뭔가요", "설명", "알려줘", "원리", "개념",
	"차이", "비교", "어떻게 작동", "무엇인가",
	"what is", "explain", "difference", "how does", "compare",
}

// searchKeywords signal a directed search for specific material.
var searchKeywords = []string{
	"찾아", "검색", "논문", "있어", "알아봐",
	"paper", "find", "search", "look up",
}

// paperKeywords select the arXiv target.
var paperKeywords = []string{"논문", "paper", "arxiv", "연구"}

// modelKeywords select the Hugging Face target.
var modelKeywords = []string{"모델", "model", "huggingface", "space", "데모", "demo"}

package extract

import (
	"strings"

	"manifold/internal/store"
)

// relationTokenMap resolves free-form relationship/role tokens (as they
// appear in oracle output or casual text) onto the closed relation
// vocabulary. Ambiguous inputs collapse onto the closest specific type
// rather than falling through to RELATED_TO, which is reserved for
// genuinely unclassifiable relations.
var relationTokenMap = map[string]store.RelationType{
	"coworker": store.RelColleagueOf, "co-worker": store.RelColleagueOf,
	"colleague": store.RelColleagueOf, "workmate": store.RelColleagueOf,
	"同事": store.RelColleagueOf,

	"classmate": store.RelClassmateOf, "schoolmate": store.RelClassmateOf,
	"同学": store.RelClassmateOf,

	"friend": store.RelFriendOf, "buddy": store.RelFriendOf, "pal": store.RelFriendOf,
	"朋友": store.RelFriendOf, "好友": store.RelFriendOf,

	"sibling": store.RelSiblingOf, "brother": store.RelSiblingOf, "sister": store.RelSiblingOf,
	"兄弟": store.RelSiblingOf, "姐妹": store.RelSiblingOf,

	"cousin": store.RelCousinOf, "表哥": store.RelCousinOf, "表姐": store.RelCousinOf,

	"son": store.RelParentOf, "daughter": store.RelParentOf, "child": store.RelParentOf,
	"儿子": store.RelParentOf, "女儿": store.RelParentOf,

	"father": store.RelChildOf, "mother": store.RelChildOf, "parent": store.RelChildOf,
	"爸爸": store.RelChildOf, "妈妈": store.RelChildOf, "父亲": store.RelChildOf, "母亲": store.RelChildOf,

	"family": store.RelFamily, "relative": store.RelFamily, "家人": store.RelFamily,

	"employer": store.RelWorksAt, "company": store.RelWorksAt, "公司": store.RelWorksAt,

	"hometown": store.RelFrom, "born in": store.RelFrom, "老家": store.RelFrom,

	"resident of": store.RelLivesIn, "lives in": store.RelLivesIn, "住在": store.RelLivesIn,
}

// MapRelationToken resolves a free-form token to a closed RelationType,
// defaulting to RELATED_TO when nothing matches.
func MapRelationToken(token string) store.RelationType {
	t := strings.ToLower(strings.TrimSpace(token))
	if rt, ok := relationTokenMap[t]; ok {
		return rt
	}
	for k, rt := range relationTokenMap {
		if strings.Contains(t, k) {
			return rt
		}
	}
	return store.RelRelatedTo
}

package transfer

type PublicationCreation struct {
	Account     string   `json:"account" form:"account"`
	ContentType string   `json:"content_type" form:"content_type"`
	MediaType   string   `json:"media_type" form:"media_type"`
	MediaRefs   []string `json:"media_refs" form:"media_refs"`
	Caption     string   `json:"caption" form:"caption"`
	PublishTime string   `json:"publish_time" form:"publish_time"`
}

type AccountCreation struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Code     string `json:"code"`
	Method   string `json:"method"`
}

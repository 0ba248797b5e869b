package clients

import "github.com/cadenza-av/cadenza/model"

// builtinProfiles is the table of recognized renderers. Later entries win on
// lookup, so keep the catch-all Unknown profile first.
var builtinProfiles = []model.ClientProfile{
	{
		Name:      "Unknown",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkNone,
		MatchType: model.MatchNone,
	},
	// Linux UPnP stacks, FRITZ!Box, Windows 10
	{
		Name:      "Standard UPnP",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkNone,
		MatchType: model.MatchUserAgent,
		Match:     "UPnP/1.0",
	},
	{
		Name:      "BubbleUPnP",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkNone,
		MatchType: model.MatchUserAgent,
		Match:     "BubbleUPnP",
	},
	// DLNADOC/1.50 SEC_HHP_[TV]UE40D7000/1.0
	{
		Name:      "Samsung other TVs",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkSamsung | model.QuirkSamsungFeatures | model.QuirkSamsungHideDynamic,
		MatchType: model.MatchUserAgent,
		Match:     "SEC_HHP_",
	},
	// AllShare on a PC must not see Samsung TV capabilities
	{
		Name:      "AllShare",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkNone,
		MatchType: model.MatchUserAgent,
		Match:     "SEC_HHP_[PC]",
	},
	{
		Name:      "Samsung Series [Q] TVs",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkSamsung | model.QuirkSamsungFeatures | model.QuirkSamsungHideDynamic | model.QuirkDCM10,
		MatchType: model.MatchUserAgent,
		Match:     "SEC_HHP_[TV] Samsung Q",
	},
	{
		Name:      "Samsung Blu-ray Player BD-D5100",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkSamsung | model.QuirkSamsungFeatures | model.QuirkCaptionProtocol,
		MatchType: model.MatchUserAgent,
		Match:     "SEC_HHP_BD",
	},
	{
		Name:      "Samsung Blu-ray Player J5500",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkSamsung | model.QuirkSamsungFeatures | model.QuirkCaptionProtocol,
		MatchType: model.MatchUserAgent,
		Match:     "[BD]J5500",
	},
	{
		Name:      "Dual CR 510",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkIRadio,
		MatchType: model.MatchUserAgent,
		Match:     "EC-IRADIO/1.0",
	},
	{
		Name:      "Technisat DigitRadio 580",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkSimpleDate,
		MatchType: model.MatchUserAgent,
		Match:     "FSL DLNADOC/1.50",
	},
	{
		Name:      "Panasonic TV",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkPanasonic | model.QuirkForceSortCriteriaTitle,
		MatchType: model.MatchUserAgent,
		Match:     "Panasonic MIL DLNA CP",
	},
	{
		Name:      "Bose Soundtouch",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkStrictXML,
		MatchType: model.MatchUserAgent,
		Match:     "Allegro-Software-WebClient",
	},
	{
		Name:      "PlayStation 3",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkNone,
		MatchType: model.MatchUserAgent,
		Match:     "PLAYSTATION 3",
	},
	{
		Name:      "Windows Media Player",
		Group:     model.DefaultClientGroup,
		Flags:     model.QuirkAsciiXML,
		MatchType: model.MatchUserAgent,
		Match:     "Windows-Media-Player",
	},
}

package cmd

var (
	configPath string

	searchLanguage string
	searchDubbed   bool
	searchResults  int
	searchGroup    bool

	infoGroup bool

	streamIndex int

	indexSource string
	indexNew    bool
	indexResume bool
	indexWatch  bool

	userSet    []string
	userDelete bool
)

func initRootFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&configPath,
		"config",
		"c",
		"",
		"specifies the path to your config file",
	)
}

func initSearchFlags() {
	searchCmd.Flags().StringVarP(
		&searchLanguage,
		"language",
		"l",
		"en",
		"specifies the language you want results in. default: en",
	)
	searchCmd.Flags().BoolVarP(
		&searchDubbed,
		"dubbed",
		"d",
		false,
		"search for dubbed releases",
	)
	searchCmd.Flags().IntVarP(
		&searchResults,
		"results",
		"n",
		0,
		"specifies how many results you want. default: taken from the config",
	)
	searchCmd.Flags().BoolVarP(
		&searchGroup,
		"group",
		"g",
		false,
		"group results that describe the same show",
	)
}

func initInfoFlags() {
	infoCmd.Flags().BoolVarP(
		&infoGroup,
		"group",
		"g",
		false,
		"include every stored anime describing the same show",
	)
}

func initStreamFlags() {
	streamCmd.Flags().IntVarP(
		&streamIndex,
		"index",
		"i",
		0,
		"specifies the stream you want, counted as the episode command lists them. default: first working",
	)
}

func initIndexFlags() {
	indexCmd.Flags().StringVarP(
		&indexSource,
		"source",
		"s",
		"gogoanime",
		"specifies the site listing to crawl",
	)
	indexCmd.Flags().BoolVarP(
		&indexNew,
		"new",
		"N",
		false,
		"crawl the recently aired listing instead of the full one",
	)
	indexCmd.Flags().BoolVarP(
		&indexResume,
		"resume",
		"r",
		true,
		"continue the full crawl where the last run stopped",
	)
	indexCmd.Flags().BoolVarP(
		&indexWatch,
		"watch",
		"w",
		false,
		"keep crawling on the configured interval",
	)
}

func initUserFlags() {
	userCmd.Flags().StringArrayVarP(
		&userSet,
		"set",
		"s",
		nil,
		"config value to store, as key=value. can be repeated",
	)
	userCmd.Flags().BoolVar(
		&userDelete,
		"delete",
		false,
		"remove the user and everything stored for them",
	)
}
